package paapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

const (
	signingAlgorithm = "AWS4-HMAC-SHA256"
	serviceName      = "ProductAdvertisingAPI"
	terminator       = "aws4_request"
	contentEncoding  = "amz-1.0"
	contentType      = "application/json; charset=utf-8"
	targetPrefix     = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1."
	amzDateFormat    = "20060102T150405Z"
	shortDateFormat  = "20060102"
)

// Operation names a PA-API 5 operation.
type Operation string

const (
	OpSearchItems Operation = "SearchItems"
	OpGetItems    Operation = "GetItems"
)

// Path returns the URL path of the operation.
func (o Operation) Path() string {
	return "/paapi5/" + strings.ToLower(string(o))
}

// Target returns the x-amz-target header value of the operation.
func (o Operation) Target() string {
	return targetPrefix + string(o)
}

// Signer computes AWS Signature Version 4 headers for one marketplace
// endpoint. Sign is a pure function of the signer fields and its arguments.
type Signer struct {
	accessKey string
	secretKey string
	region    string
	host      string
}

// NewSigner creates a Signer for the given credentials and endpoint.
func NewSigner(accessKey, secretKey, region, host string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		region:    region,
		host:      host,
	}
}

// Sign returns the complete header set for a POST of payload to op at time t,
// including the Authorization header. Header names are canonical lower-case.
func (s *Signer) Sign(op Operation, payload []byte, t time.Time) map[string]string {
	t = t.UTC()
	amzDate := t.Format(amzDateFormat)
	shortDate := t.Format(shortDateFormat)

	headers := map[string]string{
		"content-encoding": contentEncoding,
		"content-type":     contentType,
		"host":             s.host,
		"x-amz-date":       amzDate,
		"x-amz-target":     op.Target(),
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(strings.TrimSpace(headers[name]))
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(names, ";")

	canonicalRequest := strings.Join([]string{
		"POST",
		op.Path(),
		"",
		canonicalHeaders.String(),
		signedHeaders,
		hashHex(payload),
	}, "\n")

	scope := strings.Join([]string{shortDate, s.region, serviceName, terminator}, "/")

	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(s.signingKey(shortDate), []byte(stringToSign)))

	headers["authorization"] = signingAlgorithm +
		" Credential=" + s.accessKey + "/" + scope +
		", SignedHeaders=" + signedHeaders +
		", Signature=" + signature

	return headers
}

// signingKey derives the date-scoped key: secret -> date -> region -> service -> terminator.
func (s *Signer) signingKey(shortDate string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.secretKey), []byte(shortDate))
	kRegion := hmacSHA256(kDate, []byte(s.region))
	kService := hmacSHA256(kRegion, []byte(serviceName))
	return hmacSHA256(kService, []byte(terminator))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
