package user

import "time"

// Subscription tiers.
const (
	SubscriptionFree    = "free"
	SubscriptionPremium = "premium"
)

// DefaultDailyLimit is the number of chat turns a new account gets per day.
const DefaultDailyLimit = 100

// User is an account record. PasswordHash never leaves the backend.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Subscription string    `json:"subscription"`
	APICalls     int       `json:"apiCalls"`
	DailyLimit   int       `json:"dailyLimit"`
	LastAPICall  time.Time `json:"lastApiCall,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
