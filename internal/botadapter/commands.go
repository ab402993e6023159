// Package botadapter implements the chat command surface as a
// transport-agnostic handler set: parse a command line, mutate the
// alert registry, return a reply.
package botadapter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sawpanic/alertrun/internal/alert"
)

// Commands dispatches the four composite-alert chat commands against a
// shared registry: create, list, unsubscribe one, unsubscribe all.
type Commands struct {
	registry *alert.Registry
}

// NewCommands builds a Commands handler bound to registry.
func NewCommands(registry *alert.Registry) *Commands {
	return &Commands{registry: registry}
}

// CreateAlert registers userID's subscription to expr, joining an
// existing composite when the fingerprint already exists.
func (c *Commands) CreateAlert(userID, expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("botadapter: expression required after /alert")
	}

	composite, err := c.registry.AddSubscriber(userID, expr)
	if err != nil {
		return "", fmt.Errorf("botadapter: syntax error: %w", err)
	}

	return fmt.Sprintf(
		"Alert registered (id %s) and will start evaluating within a few seconds.",
		strconv.FormatUint(composite.Fingerprint, 10),
	), nil
}

// Unsubscribe removes userID from the composite named by alertID.
func (c *Commands) Unsubscribe(userID, alertID string) (string, error) {
	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return "", fmt.Errorf("botadapter: alert id required after /unsubscribe")
	}

	fp, err := strconv.ParseUint(alertID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("botadapter: alert id must be numeric")
	}

	if err := c.registry.RemoveSubscriber(userID, fp); err != nil {
		return "Alert not found, or you are not subscribed to it.", nil
	}
	return fmt.Sprintf("Unsubscribed from alert id %s.", alertID), nil
}

// UnsubscribeAll tears down every composite subscription userID holds.
func (c *Commands) UnsubscribeAll(userID string) string {
	before := len(c.registry.ListForUser(userID))
	c.registry.RemoveAllForUser(userID)
	if before == 0 {
		return "You have no active composite alert subscriptions."
	}
	return fmt.Sprintf("Unsubscribed from %d alerts.", before)
}

// MyAlerts lists every composite userID is subscribed to, with its
// fingerprint id and cooldown.
func (c *Commands) MyAlerts(userID string) string {
	composites := c.registry.ListForUser(userID)
	if len(composites) == 0 {
		return "You have no active composite alert subscriptions."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your active alerts (%d):\n\n", len(composites))
	for _, composite := range composites {
		cooldown := ""
		if composite.Cooldown > 0 {
			cooldown = fmt.Sprintf(" (cooldown: %ds)", int(composite.Cooldown.Seconds()))
		}
		fmt.Fprintf(&b, "- %s%s\n  id: %s\n\n", composite.Expression, cooldown, strconv.FormatUint(composite.Fingerprint, 10))
	}
	return strings.TrimRight(b.String(), "\n")
}
