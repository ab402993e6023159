package botadapter

import "strings"

// HelpText is the welcome/help reply for the composite-alert command
// surface.
const HelpText = `Composite alert commands:

/alert <expr>        register or join a composite alert
  example: /alert price > 5 300 & oi < 100 @10

/unsubscribe <id>     unsubscribe from one alert by id
/unsubscribe_all      unsubscribe from every alert you hold
/my_alerts            list your active subscriptions`

// Dispatch parses one raw chat line (e.g. "/alert price > 5 300") and
// runs the matching command against userID, returning the reply text.
// Unrecognized input falls back to HelpText.
func (c *Commands) Dispatch(userID, line string) (string, error) {
	line = strings.TrimSpace(line)
	cmd, rest := splitCommand(line)

	switch cmd {
	case "/alert":
		return c.CreateAlert(userID, rest)
	case "/unsubscribe":
		return c.Unsubscribe(userID, rest)
	case "/unsubscribe_all":
		return c.UnsubscribeAll(userID), nil
	case "/my_alerts":
		return c.MyAlerts(userID), nil
	case "/start", "/help", "":
		return HelpText, nil
	default:
		return HelpText, nil
	}
}

// splitCommand separates a leading "/word" token from the remainder.
func splitCommand(line string) (cmd, rest string) {
	fields := strings.SplitN(line, " ", 2)
	cmd = fields[0]
	if len(fields) == 2 {
		rest = strings.TrimSpace(fields[1])
	}
	return cmd, rest
}
