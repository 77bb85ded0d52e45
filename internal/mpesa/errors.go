package mpesa

import (
	"fmt"

	"github.com/dojohq/booking-management/internal/core/datamodel/mpesa"
)

// still-processing code returned by the query endpoint while the push
// prompt is open on the customer's handset.
const codeStillProcessing = "500.001.1001"

// failure descriptions keyed by gateway result code, worded for the
// person who tapped the prompt rather than for an operator.
var resultCodeMessages = map[string]string{
	"1":    "insufficient funds in your M-Pesa account",
	"1032": "payment was cancelled",
	"1037": "payment request timed out, please try again",
	"1001": "unable to complete payment, another transaction is in progress",
	"2001": "wrong PIN entered or transaction not authorized",
}

// OutcomeForResultCode classifies a gateway result code into the
// tri-state outcome used by the reconciler. Code 0 is success, the
// still-processing code and anything unrecognized stay pending, and
// every mapped failure code is conclusive.
func OutcomeForResultCode(code string) mpesa.Outcome {
	switch {
	case code == "0":
		return mpesa.OutcomeSuccess
	case code == codeStillProcessing:
		return mpesa.OutcomePending
	default:
		if _, known := resultCodeMessages[code]; known {
			return mpesa.OutcomeFailed
		}
		return mpesa.OutcomePending
	}
}

// FailureMessage returns the customer-facing description for a
// conclusive failure code.
func FailureMessage(code, desc string) string {
	if msg, ok := resultCodeMessages[code]; ok {
		return msg
	}
	if desc != "" {
		return desc
	}
	return fmt.Sprintf("payment failed with code %s", code)
}
