package models

import "time"

type NotificationType string

const (
	NotificationPayment NotificationType = "payment"
	NotificationSystem  NotificationType = "system"
)

type Notification struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data"`
	Type         NotificationType  `json:"type"`
	IsRead       bool              `json:"isRead"`
	SentToDevice bool              `json:"sentToDevice"`
	DeviceTokens []string          `json:"deviceTokens"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}
