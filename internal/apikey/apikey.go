package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"elx-gateway/internal/constants"
	"elx-gateway/internal/storage/database/credential"

	"golang.org/x/crypto/sha3"
)

// keyCharset 隨機後綴的字符集（英數）
const keyCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GeneratePlaintext 生成一把新密鑰的明文
// 格式：elx_live_ + 32 個隨機英數字符。明文只在簽發時回傳一次，
// 之後系統裡只存在它的摘要。
func GeneratePlaintext() (string, error) {
	buf := make([]byte, constants.KeySuffixLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}

	suffix := make([]byte, constants.KeySuffixLength)
	for i, b := range buf {
		suffix[i] = keyCharset[int(b)%len(keyCharset)]
	}

	return constants.KeyPrefix + string(suffix), nil
}

// Digest 計算密鑰明文的 SHA3-256 摘要（hex 編碼）
// 摘要是確定性的，同時充當存儲的查找鍵。
func Digest(plaintext string) string {
	sum := sha3.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ValidFormat 檢查呈遞的密鑰是否符合格式
// 格式不符的請求不需要查庫，直接視為無效憑證。
func ValidFormat(plaintext string) bool {
	if len(plaintext) != len(constants.KeyPrefix)+constants.KeySuffixLength {
		return false
	}
	if plaintext[:len(constants.KeyPrefix)] != constants.KeyPrefix {
		return false
	}
	for _, c := range plaintext[len(constants.KeyPrefix):] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}

// DisplayPrefix 取列表顯示用的前綴（不足以還原整把密鑰）
func DisplayPrefix(plaintext string) string {
	if len(plaintext) <= constants.KeyDisplayLength {
		return plaintext
	}
	return plaintext[:constants.KeyDisplayLength]
}

// RotationExpired 判斷輪換中的密鑰寬限期是否已過
func RotationExpired(key *credential.APIKey, grace time.Duration, now time.Time) bool {
	if key.Status != credential.StatusRotating || key.RotatingSince == nil {
		return false
	}
	return now.Sub(*key.RotatingSince) > grace
}

// Expired 判斷密鑰是否已過期
func Expired(key *credential.APIKey, now time.Time) bool {
	return key.ExpiresAt != nil && key.ExpiresAt.Before(now)
}
