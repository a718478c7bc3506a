//go:build !linux

package fsx

// Extended attributes are preserved only on Linux. Elsewhere every xattr
// operation reports ErrNotSupported, which callers treat as "nothing to do".

func ListXattrs(int) ([]string, error)          { return nil, ErrNotSupported }
func GetXattr(int, string) ([]byte, error)      { return nil, ErrNotSupported }
func SetXattr(int, string, []byte) error        { return ErrNotSupported }
func ListLinkXattrs(string) ([]string, error)   { return nil, ErrNotSupported }
func GetLinkXattr(string, string) ([]byte, error) { return nil, ErrNotSupported }
func SetLinkXattr(string, string, []byte) error { return ErrNotSupported }
