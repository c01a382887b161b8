package agent

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rhbot/rhbot/internal/bus"
	"github.com/rhbot/rhbot/internal/state"
)

const helpText = `Commands:
  activate | deactivate       start or stop answering in this channel
  reset                       forget this channel's conversation
  model [id]                  show or set the model
  temperature [value|off]     show or set the sampling temperature
  character <name>|off|list   play a character
  character create <name> | <description>
  character delete <name>
  alias [name]                set the name the bot calls you
  adventure start|join <description>|end
  managerrole [role|off]      show or set the role allowed to manage the bot

Changing settings in a server channel needs an administrator or the manager role.`

const notPermittedReply = "Only server administrators or members with the manager role can do that."

// parseCommand splits a prefixed message into a lower-cased command and its
// argument text. ok is false for ordinary messages.
func parseCommand(content, prefix string) (cmd, args string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	fields := strings.SplitN(strings.TrimSpace(content[len(prefix):]), " ", 2)
	if fields[0] == "" {
		return "", "", false
	}
	cmd = strings.ToLower(fields[0])
	if len(fields) == 2 {
		args = strings.TrimSpace(fields[1])
	}
	return cmd, args, true
}

// runCommand executes a command. handled is false for unknown commands,
// which are then treated as ordinary messages.
func (l *Loop) runCommand(msg bus.InboundMessage, conv conversation, cmd, args string) (reply string, handled bool, err error) {
	if changesSettings(cmd, args) && !l.canManage(msg, conv) {
		return notPermittedReply, true, nil
	}

	switch cmd {
	case "help":
		return helpText, true, nil
	case "activate":
		reply, err = l.cmdActivate(msg, conv, true)
	case "deactivate":
		reply, err = l.cmdActivate(msg, conv, false)
	case "reset":
		reply, err = l.cmdReset(msg, conv)
	case "model":
		reply, err = l.cmdModel(msg, conv, args)
	case "temperature":
		reply, err = l.cmdTemperature(msg, conv, args)
	case "character":
		reply, err = l.cmdCharacter(msg, conv, args)
	case "alias":
		reply, err = l.cmdAlias(msg, args)
	case "adventure":
		reply, err = l.cmdAdventure(msg, conv, args)
	case "managerrole":
		reply, err = l.cmdManagerRole(msg, conv, args)
	default:
		return "", false, nil
	}
	return reply, true, err
}

// changesSettings reports whether a command changes shared channel or guild
// state. Showing settings, listing characters and joining a game do not.
func changesSettings(cmd, args string) bool {
	sub, _, _ := strings.Cut(args, " ")
	sub = strings.ToLower(sub)

	switch cmd {
	case "activate", "deactivate", "reset":
		return true
	case "model", "temperature", "managerrole":
		return args != ""
	case "character":
		return sub != "" && sub != "list"
	case "adventure":
		return sub == "start" || sub == "end"
	}
	return false
}

// isOwner reports whether the author administers the server or is named in
// the configuration.
func (l *Loop) isOwner(msg bus.InboundMessage) bool {
	if msg.IsAdmin {
		return true
	}
	if dev := l.config.Bot.DeveloperID; dev != "" && msg.AuthorID == dev {
		return true
	}
	return slices.Contains(l.config.Bot.Managers, msg.AuthorID)
}

// canManage reports whether the author may change settings here. Direct
// messages belong to their author.
func (l *Loop) canManage(msg bus.InboundMessage, conv conversation) bool {
	if msg.IsDirect || l.isOwner(msg) {
		return true
	}
	role := l.state.ManagerRole(conv.guild)
	return role != "" && slices.Contains(msg.Roles, role)
}

func (l *Loop) cmdManagerRole(msg bus.InboundMessage, conv conversation, args string) (string, error) {
	if msg.IsDirect {
		return "Manager roles only apply in servers.", nil
	}

	current := l.state.ManagerRole(conv.guild)
	if args == "" {
		if current == "" {
			return "No manager role is set. Only administrators can change settings.", nil
		}
		return fmt.Sprintf("Manager role: %s", current), nil
	}
	// Role holders cannot hand the role to someone else.
	if !l.isOwner(msg) {
		return notPermittedReply, nil
	}

	role := strings.TrimSuffix(strings.TrimPrefix(args, "<@&"), ">")
	if strings.EqualFold(role, "off") {
		role = ""
	}
	if err := l.state.SetManagerRole(conv.guild, role); err != nil {
		return "", fmt.Errorf("failed to save manager role: %w", err)
	}
	if role == "" {
		return "Manager role removed.", nil
	}
	return fmt.Sprintf("Manager role set to %s.", role), nil
}

func (l *Loop) cmdActivate(msg bus.InboundMessage, conv conversation, on bool) (string, error) {
	if msg.IsDirect {
		return "Direct messages are always active.", nil
	}

	conv.settings.Active = on
	if err := l.state.SaveChannel(conv.guild, msg.ChannelID, conv.settings); err != nil {
		return "", fmt.Errorf("failed to save channel settings: %w", err)
	}
	if on {
		return "RHBot is now active in this channel.", nil
	}

	if err := l.history.Clear(msg.ConversationKey()); err != nil {
		return "", fmt.Errorf("failed to clear history: %w", err)
	}
	return "RHBot is no longer active in this channel. Conversation history was cleared.", nil
}

func (l *Loop) cmdReset(msg bus.InboundMessage, conv conversation) (string, error) {
	if err := l.history.Clear(conv.key); err != nil {
		return "", fmt.Errorf("failed to clear history: %w", err)
	}
	if conv.adventure.Active {
		return "The adventure's story so far has been forgotten.", nil
	}
	return "Conversation history cleared.", nil
}

func (l *Loop) cmdModel(msg bus.InboundMessage, conv conversation, args string) (string, error) {
	if args == "" {
		return fmt.Sprintf("Current model: %s\nAvailable: %s", l.context.Model(conv), strings.Join(l.config.ModelIDs(), ", ")), nil
	}
	if !l.config.HasModel(args) {
		return fmt.Sprintf("Unknown model %q. Available: %s", args, strings.Join(l.config.ModelIDs(), ", ")), nil
	}

	conv.settings.Model = args
	if err := l.state.SaveChannel(conv.guild, msg.ChannelID, conv.settings); err != nil {
		return "", fmt.Errorf("failed to save channel settings: %w", err)
	}
	return fmt.Sprintf("Model set to %s.", args), nil
}

func (l *Loop) cmdTemperature(msg bus.InboundMessage, conv conversation, args string) (string, error) {
	switch args {
	case "":
		return fmt.Sprintf("Current temperature: %.2f", l.context.Temperature(conv)), nil
	case "off", "default":
		conv.settings.Temperature = nil
	default:
		v, err := strconv.ParseFloat(args, 64)
		if err != nil || v < 0 || v > 2 {
			return "Temperature must be a number between 0 and 2.", nil
		}
		conv.settings.Temperature = &v
	}

	if err := l.state.SaveChannel(conv.guild, msg.ChannelID, conv.settings); err != nil {
		return "", fmt.Errorf("failed to save channel settings: %w", err)
	}
	return fmt.Sprintf("Temperature set to %.2f.", l.context.Temperature(conv)), nil
}

func (l *Loop) cmdCharacter(msg bus.InboundMessage, conv conversation, args string) (string, error) {
	sub, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(sub) {
	case "":
		if conv.settings.Character == "" {
			return "No character is set.", nil
		}
		return fmt.Sprintf("Current character: %s", conv.settings.Character), nil

	case "list":
		chars, err := l.state.Characters(conv.guild)
		if err != nil {
			return "", err
		}
		if len(chars) == 0 {
			return "No characters yet. Create one with character create <name> | <description>.", nil
		}
		names := make([]string, len(chars))
		for i, c := range chars {
			names[i] = c.Name
		}
		return "Characters: " + strings.Join(names, ", "), nil

	case "create":
		name, desc, found := strings.Cut(rest, "|")
		name, desc = strings.TrimSpace(name), strings.TrimSpace(desc)
		if !found || name == "" || desc == "" {
			return "Usage: character create <name> | <description>", nil
		}
		c := state.Character{Name: name, Description: desc, CreatedBy: msg.AuthorID}
		if err := l.state.SaveCharacter(conv.guild, c); err != nil {
			return "", fmt.Errorf("failed to save character: %w", err)
		}
		return fmt.Sprintf("Character %s created.", name), nil

	case "delete":
		if rest == "" {
			return "Usage: character delete <name>", nil
		}
		if err := l.state.DeleteCharacter(conv.guild, rest); err != nil {
			return fmt.Sprintf("No character named %s.", rest), nil
		}
		if strings.EqualFold(conv.settings.Character, rest) {
			conv.settings.Character = ""
			if err := l.state.SaveChannel(conv.guild, msg.ChannelID, conv.settings); err != nil {
				return "", fmt.Errorf("failed to save channel settings: %w", err)
			}
		}
		return fmt.Sprintf("Character %s deleted.", rest), nil

	case "off":
		conv.settings.Character = ""
		if err := l.state.SaveChannel(conv.guild, msg.ChannelID, conv.settings); err != nil {
			return "", fmt.Errorf("failed to save channel settings: %w", err)
		}
		return "Character cleared.", nil
	}

	c, err := l.state.Character(conv.guild, args)
	if err != nil {
		return fmt.Sprintf("No character named %s.", args), nil
	}
	conv.settings.Character = c.Name
	if err := l.state.SaveChannel(conv.guild, msg.ChannelID, conv.settings); err != nil {
		return "", fmt.Errorf("failed to save channel settings: %w", err)
	}
	return fmt.Sprintf("Now playing %s.", c.Name), nil
}

func (l *Loop) cmdAlias(msg bus.InboundMessage, args string) (string, error) {
	if err := l.state.SetAlias(msg.AuthorID, args); err != nil {
		return "", fmt.Errorf("failed to save alias: %w", err)
	}
	if args == "" {
		return "Alias removed.", nil
	}
	return fmt.Sprintf("I'll call you %s.", args), nil
}

func (l *Loop) cmdAdventure(msg bus.InboundMessage, conv conversation, args string) (string, error) {
	sub, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)
	advKey := bus.AdventureKey(msg.Platform, msg.GuildID, msg.ChannelID)

	switch strings.ToLower(sub) {
	case "start":
		if conv.adventure.Active {
			return "An adventure is already running here.", nil
		}
		adv := state.Adventure{Active: true, Players: map[string]state.AdventurePlayer{}}
		if err := l.state.SaveAdventure(conv.guild, msg.ChannelID, adv); err != nil {
			return "", fmt.Errorf("failed to save adventure: %w", err)
		}
		if err := l.history.Clear(advKey); err != nil {
			return "", fmt.Errorf("failed to clear history: %w", err)
		}
		return "A new adventure begins! Join with adventure join <description of your character>.", nil

	case "join":
		if !conv.adventure.Active {
			return "No adventure is running. Start one with adventure start.", nil
		}
		if rest == "" {
			return "Usage: adventure join <description>", nil
		}
		name := l.prompts.DisplayName(msg.AuthorID, msg.AuthorName)
		conv.adventure.Players[msg.AuthorID] = state.AdventurePlayer{Name: name, Description: rest}
		if err := l.state.SaveAdventure(conv.guild, msg.ChannelID, conv.adventure); err != nil {
			return "", fmt.Errorf("failed to save adventure: %w", err)
		}
		return fmt.Sprintf("%s joins the adventure.", name), nil

	case "end":
		if !conv.adventure.Active {
			return "No adventure is running.", nil
		}
		if err := l.state.DeleteAdventure(conv.guild, msg.ChannelID); err != nil {
			return "", fmt.Errorf("failed to end adventure: %w", err)
		}
		if err := l.history.Clear(advKey); err != nil {
			return "", fmt.Errorf("failed to clear history: %w", err)
		}
		return "The adventure is over. Thanks for playing!", nil
	}
	return "Usage: adventure start|join <description>|end", nil
}
