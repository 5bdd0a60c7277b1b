package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"
)

var errBadInitData = errors.New("init data signature mismatch")

// WebUser is the identity carried in signed init data.
type WebUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (u WebUser) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return "Player"
	}
	return name
}

// ValidateInitData checks the HMAC signature over a query-string payload and
// returns the embedded user. The signing secret is derived from the bot
// secret with the fixed "WebAppData" label; the data-check string is every
// field except hash, sorted by key and joined with newlines.
func ValidateInitData(raw, botSecret string) (WebUser, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return WebUser{}, errBadInitData
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return WebUser{}, errBadInitData
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	checkString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botSecret))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(checkString))
	want := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(want), []byte(gotHash)) {
		return WebUser{}, errBadInitData
	}

	var user WebUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return WebUser{}, errBadInitData
	}
	return user, nil
}

// SignInitData produces a signed payload for the given user. Used by tests
// and local tooling.
func SignInitData(user WebUser, botSecret string, extra url.Values) string {
	userJSON, _ := json.Marshal(user)
	values := url.Values{}
	for k, vs := range extra {
		for _, v := range vs {
			values.Add(k, v)
		}
	}
	values.Set("user", string(userJSON))

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botSecret))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(pairs, "\n")))
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}
