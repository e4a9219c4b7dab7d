package decision

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"approver/pkg/proto"
)

// MalformedOutputError means the model response did not honor the output
// contract. It is never coerced into a verdict: a response we cannot parse
// is a failed analysis, not a rejection.
type MalformedOutputError struct {
	Reason string
	Output string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output: %s", e.Reason)
}

// IsMalformedOutput reports whether err is a contract violation.
func IsMalformedOutput(err error) bool {
	var me *MalformedOutputError
	return errors.As(err, &me)
}

// ParsedOutput is a model response decoded against the output contract.
type ParsedOutput struct {
	Verdict    proto.Verdict
	Confidence float64
	Reasoning  string
}

// ParseOutput decodes a model response of the form:
//
//	Decision: <approve|reject|defer>
//	Confidence: <0.0-1.0>
//	Reasoning: <free text, may span lines>
//
// Keys are matched case-insensitively and the reasoning block runs to the
// end of the response. Anything that fails to yield all three fields is a
// MalformedOutputError.
func ParseOutput(output string) (ParsedOutput, error) {
	var (
		parsed        ParsedOutput
		haveVerdict   bool
		haveConf      bool
		haveReasoning bool
		reasoning     strings.Builder
	)

	lines := strings.Split(output, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		if haveReasoning {
			reasoning.WriteString("\n" + lines[i])
			continue
		}

		switch {
		case hasField(line, "decision"):
			v, err := proto.ParseVerdict(strings.ToLower(fieldValue(line)))
			if err != nil {
				return ParsedOutput{}, &MalformedOutputError{
					Reason: fmt.Sprintf("unrecognized decision %q", fieldValue(line)),
					Output: output,
				}
			}
			parsed.Verdict = v
			haveVerdict = true

		case hasField(line, "confidence"):
			c, err := strconv.ParseFloat(fieldValue(line), 64)
			if err != nil || c < 0 || c > 1 {
				return ParsedOutput{}, &MalformedOutputError{
					Reason: fmt.Sprintf("confidence %q not in [0,1]", fieldValue(line)),
					Output: output,
				}
			}
			parsed.Confidence = c
			haveConf = true

		case hasField(line, "reasoning"):
			reasoning.WriteString(fieldValue(line))
			haveReasoning = true
		}
	}

	if !haveVerdict || !haveConf || !haveReasoning {
		return ParsedOutput{}, &MalformedOutputError{
			Reason: fmt.Sprintf("missing fields (decision=%t confidence=%t reasoning=%t)",
				haveVerdict, haveConf, haveReasoning),
			Output: output,
		}
	}

	parsed.Reasoning = strings.TrimSpace(reasoning.String())
	if parsed.Reasoning == "" {
		return ParsedOutput{}, &MalformedOutputError{Reason: "empty reasoning", Output: output}
	}
	return parsed, nil
}

func hasField(line, key string) bool {
	return len(line) > len(key) && strings.EqualFold(line[:len(key)], key) &&
		strings.HasPrefix(strings.TrimSpace(line[len(key):]), ":")
}

func fieldValue(line string) string {
	_, after, _ := strings.Cut(line, ":")
	return strings.TrimSpace(after)
}
