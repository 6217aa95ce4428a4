package ads

import (
	"errors"
	"fmt"
	"strings"
)

const accountHint = "Re-select the ad account under platform connection settings and try again."

// APIError is the platform's structured error payload.
type APIError struct {
	Status      int    `json:"-"`
	Code        int    `json:"code"`
	Subcode     int    `json:"error_subcode"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	UserTitle   string `json:"error_user_title"`
	UserMessage string `json:"error_user_msg"`
	TraceID     string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	if e.Subcode != 0 {
		return fmt.Sprintf("platform error %d/%d (HTTP %d): %s", e.Code, e.Subcode, e.Status, e.Message)
	}
	return fmt.Sprintf("platform error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) text() string {
	return strings.ToLower(e.Message + " " + e.UserTitle + " " + e.UserMessage)
}

// IsObjectiveRejected reports whether the platform refused the campaign
// objective itself.
func IsObjectiveRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 100 && strings.Contains(apiErr.text(), "objective")
}

// IsAccountScoped reports whether the error points at the selected ad
// account or its permissions.
func IsAccountScoped(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case 200, 190, 10:
	default:
		return false
	}
	text := apiErr.text()
	return strings.Contains(text, "ad account") || strings.Contains(text, "act_") || strings.Contains(text, "permission")
}

// Classify renders an error as a user-facing message, adding a remedy when
// the error concerns the ad account.
func Classify(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}

	detail := apiErr.UserMessage
	if detail == "" {
		detail = apiErr.Message
	}
	msg := fmt.Sprintf("The ad platform rejected the request (code %d", apiErr.Code)
	if apiErr.Subcode != 0 {
		msg += fmt.Sprintf(", subcode %d", apiErr.Subcode)
	}
	msg += "): " + detail
	if apiErr.TraceID != "" {
		msg += " [trace " + apiErr.TraceID + "]"
	}
	if IsAccountScoped(err) {
		msg += " " + accountHint
	}
	return msg
}
