package cloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// UnsignedPayload is the sentinel payload hash for requests whose body
// is not covered by the signature.
const UnsignedPayload = "UNSIGNED-PAYLOAD"

// EmptyPayloadHash is the SHA-256 of a zero-length body.
const EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

const signingAlgorithm = "AWS4-HMAC-SHA256"

// Signer signs HTTP requests with AWS Signature Version 4.
type Signer struct {
	AccessKey string
	SecretKey string
	Region    string
	Service   string
}

// NewSigner creates a signer for the S3 service.
func NewSigner(accessKey, secretKey, region string) *Signer {
	return &Signer{
		AccessKey: accessKey,
		SecretKey: secretKey,
		Region:    region,
		Service:   "s3",
	}
}

// Sign adds X-Amz-Date, X-Amz-Content-Sha256 and Authorization headers
// to the request. payloadHash is the lowercase hex SHA-256 of the
// request body, or UnsignedPayload.
func (s *Signer) Sign(req *http.Request, payloadHash string, now time.Time) {
	if payloadHash == "" {
		payloadHash = EmptyPayloadHash
	}

	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	canonicalRequest, signedHeaders := s.canonicalRequest(req, payloadHash)

	scope := strings.Join([]string{dateStamp, s.Region, s.Service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := s.signingKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authorization := signingAlgorithm +
		" Credential=" + s.AccessKey + "/" + scope +
		", SignedHeaders=" + signedHeaders +
		", Signature=" + signature

	req.Header.Set("Authorization", authorization)
}

// canonicalRequest builds the canonical request string and the
// semicolon-joined signed header list.
func (s *Signer) canonicalRequest(req *http.Request, payloadHash string) (string, string) {
	canonicalURI := uriEncodePath(req.URL.EscapedPath())
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalQuery := canonicalQueryString(req.URL.Query())

	headers := map[string]string{
		"host": req.Host,
	}
	if headers["host"] == "" {
		headers["host"] = req.URL.Host
	}
	for name, values := range req.Header {
		lower := strings.ToLower(name)
		if lower == "host" || strings.HasPrefix(lower, "x-amz-") || lower == "content-type" {
			headers[lower] = strings.TrimSpace(strings.Join(values, ","))
		}
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteString(":")
		canonicalHeaders.WriteString(headers[name])
		canonicalHeaders.WriteString("\n")
	}
	signedHeaders := strings.Join(names, ";")

	canonical := strings.Join([]string{
		req.Method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")

	return canonical, signedHeaders
}

// signingKey derives the per-day signing key:
// HMAC(HMAC(HMAC(HMAC("AWS4"+secret, date), region), service), "aws4_request").
func (s *Signer) signingKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.SecretKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.Region)
	kService := hmacSHA256(kRegion, s.Service)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalQueryString sorts parameters by name then value and
// percent-encodes both per RFC 3986.
func canonicalQueryString(values url.Values) string {
	type pair struct{ key, value string }
	var pairs []pair
	for key, vs := range values {
		for _, v := range vs {
			pairs = append(pairs, pair{uriEncode(key), uriEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// uriEncodePath encodes a path for the canonical request, keeping
// slashes. The input is the already-escaped URL path, so it is decoded
// first to avoid double encoding of safe characters.
func uriEncodePath(escaped string) string {
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		unescaped = escaped
	}

	segments := strings.Split(unescaped, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg)
	}
	return strings.Join(segments, "/")
}

// uriEncode percent-encodes everything except RFC 3986 unreserved
// characters.
func uriEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
		} else {
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		}
	}
	return b.String()
}
