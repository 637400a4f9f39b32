package database

import (
	"fmt"
	"regexp"
)

var objectIDPattern = regexp.MustCompile("^[a-fA-F0-9]{24}$")

// ValidateObjectID 驗證 MongoDB ObjectID 格式
// 路徑參數裡的密鑰 ID 先過這裡，再進查詢。
func ValidateObjectID(id string) error {
	if len(id) != 24 || !objectIDPattern.MatchString(id) {
		return fmt.Errorf("無效的 ObjectID 格式")
	}
	return nil
}
