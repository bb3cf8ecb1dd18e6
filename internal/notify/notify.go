package notify

import (
	"fmt"
	"log"
	"os/exec"
)

const appName = "Lanna"

type Notifier interface {
	SessionExpired(actor string)
	Notify(title, message string)
	Error(msg string)
}

// FromConfig returns the notifier named by notifications.type.
func FromConfig(kind string) Notifier {
	switch kind {
	case "desktop":
		return Desktop{}
	case "log":
		return Log{}
	default:
		return Nop{}
	}
}

type Desktop struct{}

func (d Desktop) SessionExpired(actor string) {
	d.send("-u", "normal", fmt.Sprintf("%s: %s session expired, please log in again", appName, actor))
}

func (d Desktop) Notify(title, message string) {
	d.send(title, message)
}

func (d Desktop) Error(msg string) {
	d.send("-u", "critical", msg)
}

func (Desktop) send(args ...string) {
	cmd := exec.Command("notify-send", append([]string{"-a", appName}, args...)...)
	if err := cmd.Run(); err != nil {
		log.Printf("Failed to send notification: %v", err)
	}
}

// Log writes notifications to the standard logger.
type Log struct{}

func (Log) SessionExpired(actor string) {
	log.Printf("%s: %s session expired, please log in again", appName, actor)
}

func (Log) Notify(title, message string) {
	log.Printf("%s: %s - %s", appName, title, message)
}

func (Log) Error(msg string) {
	log.Printf("%s Error: %s", appName, msg)
}

// Nop is a Notifier that does absolutely nothing.
type Nop struct{}

func (Nop) SessionExpired(actor string)  {}
func (Nop) Notify(title, message string) {}
func (Nop) Error(msg string)             {}
