package twilioprovider

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
)

// SignatureHeader carries Twilio's signature of a webhook request.
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks X-Twilio-Signature values using the account auth token.
type SignatureValidator struct {
	authToken string
	validator twilioclient.RequestValidator
}

func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{
		authToken: authToken,
		validator: twilioclient.NewRequestValidator(authToken),
	}
}

// Validate reports whether signature matches the public webhook URL and the
// form parameters Twilio posted.
func (v *SignatureValidator) Validate(url string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.validator.Validate(url, params, signature)
}

// ValidateForm is Validate for a parsed form body. Forms with repeated keys
// are signed over every value, which the map-based Validate cannot express.
func (v *SignatureValidator) ValidateForm(webhookURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}

	params := make(map[string]string, len(form))
	for key, values := range form {
		if len(values) != 1 {
			return hmac.Equal([]byte(signature), []byte(v.sign(webhookURL, form)))
		}
		params[key] = values[0]
	}
	return v.validator.Validate(webhookURL, params, signature)
}

// sign computes base64(HMAC-SHA1(url + key/value pairs)), keys sorted and
// values of a repeated key sorted.
func (v *SignatureValidator) sign(webhookURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(webhookURL)
	for _, k := range keys {
		values := append([]string(nil), form[k]...)
		sort.Strings(values)
		for _, value := range values {
			b.WriteString(k)
			b.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
