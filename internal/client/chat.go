package client

import (
	"fmt"
	"time"
)

// ExitCommand ends an interactive chat session.
const ExitCommand = "/exit"

func stamp(t time.Time) string {
	return t.Format("15:04:05")
}

// JoinMessage announces name entering the chat.
func JoinMessage(t time.Time, name string) string {
	return fmt.Sprintf("%s - %s has joined the chat", stamp(t), name)
}

// ChatMessage formats one line typed by name.
func ChatMessage(t time.Time, name, line string) string {
	return fmt.Sprintf("%s - [%s]: %s", stamp(t), name, line)
}

// LeaveMessage announces name leaving the chat.
func LeaveMessage(t time.Time, name string) string {
	return fmt.Sprintf("%s - %s has left the chat", stamp(t), name)
}
