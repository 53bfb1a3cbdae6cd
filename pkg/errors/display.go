package errors

import "strings"

// NetworkLostMessage replaces RPC disconnection errors before display.
const NetworkLostMessage = "Your selected network has lost connection. Update it by re-enabling it or changing network provider"

// GenericMessage is shown for internal failures.
const GenericMessage = "Something went wrong, please try again"

//nolint:gochecknoglobals // fixed pattern table
var networkLostPrefixes = []string{
	"UnknownError Connection to Indexed DataBase server lost",
	"Provided address is invalid, the capitalization checksum test failed",
	"connection not open on send()",
}

// IsNetworkLost reports whether the message is one of the known disconnection errors.
func IsNetworkLost(err error) bool {
	if err == nil {
		return false
	}
	if Code(err) == CodeNetworkLost {
		return true
	}
	return hasNetworkLostPrefix(err.Error())
}

// IsRejectedByUser reports whether the signer rejected the request.
func IsRejectedByUser(err error) bool {
	if err == nil {
		return false
	}
	return Code(err) == CodeUserReject || strings.HasPrefix(err.Error(), ErrUserRejected.Message)
}

// Classify maps raw signer/transport errors into the taxonomy.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case Code(err) != "GENERAL_ERROR":
		return err
	case IsRejectedByUser(err):
		return &HarvestError{Code: CodeUserReject, Message: ErrUserRejected.Message, Cause: err, ExitCode: ExitAuth}
	case IsNetworkLost(err):
		return &HarvestError{Code: CodeNetworkLost, Message: NetworkLostMessage, Cause: err, ExitCode: ExitGeneral}
	}
	return err
}

// DisplayMessage returns the text a user should see for err.
// Validation errors keep their message, disconnection errors get the
// network-lost prompt and anything else becomes a generic retry prompt.
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsNetworkLost(err) {
		return NetworkLostMessage
	}
	var he *HarvestError
	if As(err, &he) && IsValidation(err) {
		return he.Message
	}
	return GenericMessage
}

func hasNetworkLostPrefix(msg string) bool {
	for _, p := range networkLostPrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}
