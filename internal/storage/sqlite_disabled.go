//go:build !sqlite

package storage

import "fmt"

func openSQLite(Config) (Store, error) {
	return nil, fmt.Errorf("storage: sqlite driver not compiled in (build with -tags sqlite)")
}
