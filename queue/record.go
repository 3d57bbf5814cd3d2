package queue

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// RecordDelimiter separates the fields of an encoded record.
const RecordDelimiter = ":"

// ErrorMalformedRecord is returned when a stored record can not be decoded.
var ErrorMalformedRecord = errors.New("malformed message record")

// EncodeRecord serializes a message to a single line (without the trailing newline)
// of the form id:receiptHandle:body. The body is base64 encoded so it may hold any
// bytes, including the delimiter and newlines.
func EncodeRecord(message Message) string {
	return message.ID + RecordDelimiter + message.ReceiptHandle + RecordDelimiter +
		base64.StdEncoding.EncodeToString(message.Body)
}

// DecodeRecord parses a line produced by EncodeRecord.
func DecodeRecord(record string) (Message, error) {
	var message Message
	fields := strings.SplitN(strings.TrimRight(record, "\r\n"), RecordDelimiter, 3)
	if len(fields) != 3 || fields[0] == "" {
		return message, fmt.Errorf("%w: expected 3 fields in %q", ErrorMalformedRecord, record)
	}
	body, err := base64.StdEncoding.DecodeString(fields[2])
	if err != nil {
		return message, fmt.Errorf("%w: %s", ErrorMalformedRecord, err)
	}
	message.ID = fields[0]
	message.ReceiptHandle = fields[1]
	message.Body = body
	return message, nil
}
