package shared

import "fmt"

// AccountLockKey builds redis keys guarding moderation writes for one account.
func AccountLockKey(accountID int64) string {
	return fmt.Sprintf("moderation:account:%d:lock", accountID)
}
