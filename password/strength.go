package password

import (
	"strings"

	"github.com/nbutton23/zxcvbn-go"
)

// Strength is advisory feedback derived from a zxcvbn estimate. It never gates
// an operation; the complexity rules in policy.go do.
type Strength struct {
	Score            int     `json:"score"`
	Entropy          float64 `json:"entropy"`
	CrackTimeDisplay string  `json:"crack_time"`
}

// Label maps the zxcvbn score to a short word for display.
func (s Strength) Label() string {
	switch s.Score {
	case 0:
		return "very weak"
	case 1:
		return "weak"
	case 2:
		return "fair"
	case 3:
		return "strong"
	default:
		return "very strong"
	}
}

// Estimate scores p with zxcvbn. userInputs are words the estimator should
// treat as guessable, typically the email local part and names.
func Estimate(p string, userInputs ...string) Strength {
	if p == "" {
		return Strength{}
	}
	if len(p) > MaxPasswordBytes {
		p = p[:MaxPasswordBytes]
	}
	inputs := make([]string, 0, len(userInputs))
	for _, in := range userInputs {
		in = strings.TrimSpace(in)
		if in != "" {
			inputs = append(inputs, strings.ToLower(in))
		}
	}
	m := zxcvbn.PasswordStrength(p, inputs)
	return Strength{
		Score:            m.Score,
		Entropy:          m.Entropy,
		CrackTimeDisplay: m.CrackTimeDisplay,
	}
}
