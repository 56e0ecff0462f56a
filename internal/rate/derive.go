package rate

import (
	"strings"

	"plctags/pkg/contract"

	"github.com/cockroachdb/errors"
)

// DeriveKey 由驱动名与控制器地址构造限流分组键（同一控制器共享额度）。
// 地址为空时返回 ErrNotConnected。
func DeriveKey(driver, host string) (LimitKey, error) {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return "", errors.Wrapf(contract.ErrNotConnected, "rate: no host for driver %s", driver)
	}
	return LimitKey(strings.ToLower(strings.TrimSpace(driver)) + "@" + h), nil
}
