package uds

import (
	"fmt"
)

const (
	negativeResponse = 0x7F
	responsePending  = 0x78
)

// NegativeResponseError is a 7F response that did not satisfy the expected response
type NegativeResponseError struct {
	Service  byte
	Code     byte
	Expected string
}

func (e *NegativeResponseError) Error() string {
	msg := fmt.Sprintf("negative response to %s (0x%02X): %s (0x%02X)",
		TranslateServiceCode(e.Service), e.Service, TranslateErrorCode(e.Code), e.Code)
	if e.Expected != "" {
		msg += ", expected " + e.Expected
	}
	return msg
}

// CheckErr returns a *NegativeResponseError if payload is a negative response other than
// response pending
func CheckErr(payload []byte) error {
	if len(payload) >= 3 && payload[0] == negativeResponse && payload[2] != responsePending {
		return &NegativeResponseError{Service: payload[1], Code: payload[2]}
	}
	return nil
}

// IsPending reports whether payload is a 7F xx 78 response pending
func IsPending(payload []byte) bool {
	return len(payload) >= 3 && payload[0] == negativeResponse && payload[2] == responsePending
}

func TranslateServiceCode(p byte) string {
	switch p {
	case 0x10:
		return "DiagnosticSessionControl"
	case 0x11:
		return "ECUReset"
	case 0x14:
		return "ClearDiagnosticInformation"
	case 0x19:
		return "ReadDTCInformation"
	case 0x22:
		return "ReadDataByIdentifier"
	case 0x23:
		return "ReadMemoryByAddress"
	case 0x24:
		return "ReadScalingDataByIdentifier"
	case 0x27:
		return "SecurityAccess"
	case 0x28:
		return "CommunicationControl"
	case 0x29:
		return "Authentication"
	case 0x2A:
		return "ReadDataByPeriodicIdentifier"
	case 0x2C:
		return "DynamicallyDefineDataIdentifier"
	case 0x2E:
		return "WriteDataByIdentifier"
	case 0x2F:
		return "InputOutputControlByIdentifier"
	case 0x31:
		return "RoutineControl"
	case 0x34:
		return "RequestDownload"
	case 0x35:
		return "RequestUpload"
	case 0x36:
		return "TransferData"
	case 0x37:
		return "RequestTransferExit"
	case 0x38:
		return "RequestFileTransfer"
	case 0x3D:
		return "WriteMemoryByAddress"
	case 0x3E:
		return "TesterPresent"
	case 0x83:
		return "AccessTimingParameter"
	case 0x84:
		return "SecuredDataTransmission"
	case 0x85:
		return "ControlDTCSetting"
	case 0x86:
		return "ResponseOnEvent"
	case 0x87:
		return "LinkControl"
	default:
		return "Unknown"
	}
}

func TranslateErrorCode(p byte) string {
	switch p {
	case 0x10:
		return "General reject"
	case 0x11:
		return "Service not supported"
	case 0x12:
		return "SubFunction not supported"
	case 0x13:
		return "Incorrect message length or invalid format"
	case 0x14:
		return "Response too long"
	case 0x21:
		return "Busy, repeat request"
	case 0x22:
		return "Conditions not correct"
	case 0x24:
		return "Request sequence error"
	case 0x25:
		return "No response from subnet component"
	case 0x26:
		return "Failure prevents execution of requested action"
	case 0x31:
		return "Request out of range"
	case 0x33:
		return "Security access denied"
	case 0x35:
		return "Invalid key"
	case 0x36:
		return "Exceeded number of attempts"
	case 0x37:
		return "Required time delay not expired"
	case 0x70:
		return "Upload/download not accepted"
	case 0x71:
		return "Transfer data suspended"
	case 0x72:
		return "General programming failure"
	case 0x73:
		return "Wrong block sequence counter"
	case 0x78:
		return "Response pending"
	case 0x7E:
		return "SubFunction not supported in active session"
	case 0x7F:
		return "Service not supported in active session"
	case 0x81:
		return "RPM too high"
	case 0x82:
		return "RPM too low"
	case 0x83:
		return "Engine is running"
	case 0x84:
		return "Engine is not running"
	case 0x85:
		return "Engine run time too low"
	case 0x86:
		return "Temperature too high"
	case 0x87:
		return "Temperature too low"
	case 0x88:
		return "Vehicle speed too high"
	case 0x89:
		return "Vehicle speed too low"
	case 0x8A:
		return "Throttle/pedal too high"
	case 0x8B:
		return "Throttle/pedal too low"
	case 0x8C:
		return "Transmission range not in neutral"
	case 0x8D:
		return "Transmission range not in gear"
	case 0x8F:
		return "Brake switch(es) not closed"
	case 0x90:
		return "Shifter lever not in park"
	case 0x91:
		return "Torque converter clutch locked"
	case 0x92:
		return "Voltage too high"
	case 0x93:
		return "Voltage too low"
	}
	return "Unknown error"
}
