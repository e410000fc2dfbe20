package govern

import "strings"

const (
	messageUnexpected = "An unexpected error occurred. Please try again."
	messageGeneric    = "Conversion failed. Please try again."
)

type userMessage struct {
	matches []string
	text    string
}

var userMessages = []userMessage{
	{[]string{"timeout"}, "The conversion took too long. Please try with a smaller file."},
	{[]string{"memory", "out of", "too large"}, "The file is too large to process. Please try a smaller file."},
	{[]string{"invalid", "corrupted"}, "The file appears to be corrupted or invalid. Please try another file."},
	{[]string{"unsupported"}, "This file format is not supported. Please check the file type."},
}

// UserMessage translates err into a short message that is safe to show to
// users. The raw error text is never part of the result.
func UserMessage(err error) string {
	if err == nil {
		return messageUnexpected
	}
	msg := strings.ToLower(err.Error())
	for _, m := range userMessages {
		for _, s := range m.matches {
			if strings.Contains(msg, s) {
				return m.text
			}
		}
	}
	return messageGeneric
}
