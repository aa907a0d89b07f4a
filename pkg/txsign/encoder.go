package txsign

import (
	"errors"
	"strings"

	"avaneesh/blesign-go/pkg/frame"
)

// Placeholder marks a value the device substitutes into a contract template
const Placeholder = "{}"

// DeviceInput is one segment of a device-data signing request
type DeviceInput = frame.Segment

// Segment kinds
const (
	Fixed             = frame.SegmentFixed
	DeviceSubstituted = frame.SegmentDeviceSubstituted
)

var (
	ErrNotContract         = errors.New("transaction has no contract output")
	ErrTooManyPlaceholders = errors.New("too many placeholders")
)

// EncodeTemplate scans template left to right. Each placeholder flushes the
// bytes accumulated so far (prefix included on the first) as a Fixed segment
// followed by a DeviceSubstituted segment holding the placeholder index.
// The remaining tail and suffix form the final Fixed segment.
func EncodeTemplate(prefix []byte, template string, suffix []byte) []DeviceInput {
	var inputs []DeviceInput
	acc := append([]byte(nil), prefix...)
	index := 0

	rest := template
	for {
		i := strings.Index(rest, Placeholder)
		if i < 0 {
			break
		}
		acc = append(acc, rest[:i]...)
		inputs = append(inputs, frame.FixedSegment(acc), frame.PlaceholderSegment(uint16(index)))
		acc = nil
		index++
		rest = rest[i+len(Placeholder):]
	}

	acc = append(acc, rest...)
	acc = append(acc, suffix...)
	return append(inputs, frame.FixedSegment(acc))
}

// BuildDeviceInputs splits the canonical serialization of a contract
// transaction around the placeholders of its first output. With device values
// substituted, the segments concatenate to tx.Serialize().
func BuildDeviceInputs(tx *Transaction) ([]DeviceInput, error) {
	if !tx.IsContract() {
		return nil, ErrNotContract
	}
	if strings.Count(tx.Vout[0].Contract, Placeholder) > 0xFFFF {
		return nil, ErrTooManyPlaceholders
	}

	var prefix serializer
	for i := range tx.Vin {
		prefix.input(&tx.Vin[i])
	}
	prefix.outputHead(&tx.Vout[0])

	var suffix serializer
	for i := 1; i < len(tx.Vout); i++ {
		suffix.outputHead(&tx.Vout[i])
		suffix.bytes([]byte(tx.Vout[i].Contract))
	}
	suffix.trailer(tx)

	return EncodeTemplate(prefix.buf, tx.Vout[0].Contract, suffix.buf), nil
}

// EncodeDeviceInputs packs inputs as the body of a device-data request
func EncodeDeviceInputs(inputs []DeviceInput) ([]byte, error) {
	return frame.EncodeSegments(inputs)
}

// SubstituteValues replaces the first remaining placeholder with each value in turn
func SubstituteValues(template string, values [][]byte) string {
	for _, v := range values {
		template = strings.Replace(template, Placeholder, string(v), 1)
	}
	return template
}
