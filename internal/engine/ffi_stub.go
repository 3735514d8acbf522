//go:build !easytier

package engine

// New returns a stub that fails every call. The native core ships as a
// per-platform library and is linked only when building with the
// "easytier" tag; plain builds still compile and test everything above
// this package.
func New() Engine { return unavailable{} }

type unavailable struct{}

func (unavailable) Run(*Config) error          { return ErrUnavailable }
func (unavailable) SetTunFD(string, int) error { return ErrUnavailable }
func (unavailable) Infos() ([]KV, error)       { return nil, ErrUnavailable }
func (unavailable) Retain([]string) error      { return ErrUnavailable }
