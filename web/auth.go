package web

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
)

const cookieName = "boltzmann-auth"

// Authenticate checks the basic auth credentials. The default compares against the
// BOLTZMANN_USER and BOLTZMANN_PASSWORD environment variables; building with the pam tag
// checks them against the system accounts instead.
var Authenticate = authEnv

// login is the value stored in the auth cookie.
type login struct {
	User    string
	Expires int64
}

// AuthMiddleware requires a login for all requests except those under the public path prefixes.
// After a successful basic auth login a signed and encrypted cookie is set which is valid for
// the session lifetime.
type AuthMiddleware struct {
	Public  []string
	sc      *securecookie.SecureCookie
	opts    httpauth.AuthOptions
	maxAge  time.Duration
	timeNow func() time.Time
}

// NewAuthMiddleware returns a new middleware with random cookie keys, so logins do not persist
// across server restarts.
func NewAuthMiddleware(realm string, maxAge time.Duration, public ...string) *AuthMiddleware {
	mw := &AuthMiddleware{
		Public:  public,
		sc:      securecookie.New(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32)),
		maxAge:  maxAge,
		timeNow: time.Now,
	}
	mw.sc.MaxAge(int(maxAge / time.Second))
	mw.opts = httpauth.AuthOptions{
		Realm:    realm,
		AuthFunc: func(user, pass string, r *http.Request) bool { return Authenticate(user, pass, r) },
	}
	return mw
}

// Middleware wraps next so that it is only called for authenticated requests.
func (mw *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range mw.Public {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if _, ok := mw.User(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		httpauth.BasicAuth(mw.opts)(mw.setCookie(next)).ServeHTTP(w, r)
	})
}

// User returns the name of the logged in user if the request has a valid auth cookie.
func (mw *AuthMiddleware) User(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}
	var l login
	if err = mw.sc.Decode(cookieName, cookie.Value, &l); err != nil {
		return "", false
	}
	if mw.timeNow().Unix() > l.Expires {
		return "", false
	}
	return l.User, true
}

func (mw *AuthMiddleware) setCookie(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		l := login{User: user, Expires: mw.timeNow().Add(mw.maxAge).Unix()}
		if encoded, err := mw.sc.Encode(cookieName, l); err == nil {
			http.SetCookie(w, &http.Cookie{
				Name:     cookieName,
				Value:    encoded,
				Path:     "/",
				MaxAge:   int(mw.maxAge / time.Second),
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
			})
		} else {
			log.Println("error encoding cookie:", err)
		}
		h.ServeHTTP(w, r)
	})
}

func authEnv(user, pass string, r *http.Request) bool {
	expUser, expPass := os.Getenv("BOLTZMANN_USER"), os.Getenv("BOLTZMANN_PASSWORD")
	if expUser == "" || expPass == "" {
		log.Println("auth: BOLTZMANN_USER and BOLTZMANN_PASSWORD not set")
		return false
	}
	ok := subtle.ConstantTimeCompare([]byte(user), []byte(expUser)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(expPass)) == 1
	log.Println("auth", user, ok)
	return ok
}
