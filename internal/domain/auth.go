package domain

import "github.com/ethereum/go-ethereum/common"

// AuthContext identifies the caller of an engine entry point. Administrative
// operations validate it against the configured admin identity instead of
// consulting any ambient global state.
type AuthContext struct {
	Caller common.Address
}

// As returns an AuthContext for the given caller.
func As(caller common.Address) AuthContext {
	return AuthContext{Caller: caller}
}
