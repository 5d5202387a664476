package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidInitData = errors.New("invalid telegram init data")

// User is the identity extracted from a verified WebApp initData payload.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Validator checks Telegram WebApp initData signatures. The secret key is
// HMAC-SHA256("WebAppData", botToken) per the Bot API login widget scheme.
type Validator struct {
	secret []byte
	maxAge time.Duration
}

// NewValidator builds a Validator for the given bot token. maxAge bounds how
// old auth_date may be; zero disables the freshness check.
func NewValidator(botToken string, maxAge time.Duration) *Validator {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &Validator{secret: mac.Sum(nil), maxAge: maxAge}
}

// Validate verifies the initData signature and returns the embedded user.
func (v *Validator) Validate(initData string) (*User, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, ErrInvalidInitData
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return nil, ErrInvalidInitData
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s=%s", k, values.Get(k))
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(b.String()))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(gotHash)) {
		return nil, ErrInvalidInitData
	}

	if v.maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return nil, ErrInvalidInitData
		}
		if time.Since(time.Unix(authDate, 0)) > v.maxAge {
			return nil, ErrInvalidInitData
		}
	}

	var user User
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return nil, ErrInvalidInitData
	}
	if user.ID == 0 {
		return nil, ErrInvalidInitData
	}
	return &user, nil
}

// Sign produces a valid initData string for the given fields. Exposed for
// tests and the local dev tooling; production payloads come from Telegram.
func Sign(botToken string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s=%s", k, fields[k])
	}

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secretMac.Sum(nil))
	mac.Write([]byte(b.String()))

	out := url.Values{}
	for k, v := range fields {
		out.Set(k, v)
	}
	out.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return out.Encode()
}
