package telegram

import (
	"fmt"
	"os"
	"strconv"
)

// AcquireLock creates an exclusive pid file so only one bot instance
// polls the Telegram API at a time; two pollers would steal each
// other's updates. The returned release removes the file.
func AcquireLock(path string) (release func(), err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another bot instance is already running (lock file %s exists)", path)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		if werr != nil {
			return nil, fmt.Errorf("write lock file: %w", werr)
		}
		return nil, fmt.Errorf("close lock file: %w", cerr)
	}
	return func() { _ = os.Remove(path) }, nil
}
