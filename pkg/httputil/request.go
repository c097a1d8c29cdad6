package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// maxJSONBody bounds JSON request bodies; uploads use multipart instead.
const maxJSONBody = 1 << 20

// ParseJSON decodes a single JSON object from the request body into dest.
// Unknown fields are rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a 400 on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// PathInt64 extracts a positive int64 path parameter
func PathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", key, str)
	}
	return val, nil
}

// PathInt64OrError extracts an int64 path parameter and writes a 400 on failure
func PathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := PathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

// PathString extracts a non-empty string path parameter
func PathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", fmt.Errorf("missing path parameter: %s", key)
	}
	return str, nil
}

// PathStringOrError extracts a string path parameter and writes a 400 on failure
func PathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val, err := PathString(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return "", false
	}
	return val, true
}

// QueryInt parses an integer query parameter, returning defaultVal when absent
func QueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}

// QueryBool parses a boolean query parameter, returning defaultVal when absent
func QueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return val, nil
}

// QueryString returns a trimmed query parameter or defaultVal
func QueryString(r *http.Request, key, defaultVal string) string {
	if val := strings.TrimSpace(r.URL.Query().Get(key)); val != "" {
		return val
	}
	return defaultVal
}

// Pagination reads limit/offset, clamping limit to [1, maxLimit]
func Pagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int, err error) {
	limit, err = QueryInt(r, "limit", defaultLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err = QueryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, nil
}

// ClientIP resolves the caller's address. X-Forwarded-For and X-Real-IP are
// only honoured when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if first != "" {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Validator returns ok=false and a message for an invalid field
type Validator func() (field string, ok bool, message string)

// ValidateAll runs every validator and writes one 400 listing all failures
func ValidateAll(w http.ResponseWriter, validators ...Validator) bool {
	details := map[string]string{}
	for _, v := range validators {
		if field, ok, msg := v(); !ok {
			if _, seen := details[field]; !seen {
				details[field] = msg
			}
		}
	}
	if len(details) == 0 {
		return true
	}
	WriteValidationError(w, "validation failed", details)
	return false
}

// Required is a Validator for non-blank strings
func Required(field, value string) Validator {
	return func() (string, bool, string) {
		return field, strings.TrimSpace(value) != "", field + " is required"
	}
}

// MaxLength is a Validator for string length in runes
func MaxLength(field, value string, max int) Validator {
	return func() (string, bool, string) {
		return field, len([]rune(value)) <= max, fmt.Sprintf("%s must be at most %d characters", field, max)
	}
}

// OneOf is a Validator for enumerated strings
func OneOf(field, value string, allowed ...string) Validator {
	return func() (string, bool, string) {
		for _, a := range allowed {
			if value == a {
				return field, true, ""
			}
		}
		return field, false, fmt.Sprintf("%s must be one of %s", field, strings.Join(allowed, ", "))
	}
}
