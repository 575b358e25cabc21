package chat

import (
	"context"
	"fmt"

	"bunny-chatter/internal/logging"
	"bunny-chatter/internal/persona"
)

func (p *Pipeline) handleCommand(ctx context.Context, ev Event, log *logging.Logger) error {
	log = log.With("command", ev.Command)

	switch ev.Command {
	case CmdStart:
		rec, err := p.Sessions.GetOrCreate(ctx, ev.UserKey, ev.DisplayName)
		if err != nil && !p.storeDegraded(err, log) {
			p.send(ctx, ev.ChatID, p.Persona.Apology, log)
			return fmt.Errorf("start: %w", err)
		}
		greeting, err := persona.Render("greeting", p.Persona.Greeting, persona.Identity{
			Nickname:   rec.Nickname,
			AccountTag: rec.AccountTag,
		})
		if err != nil {
			p.send(ctx, ev.ChatID, p.Persona.Apology, log)
			return fmt.Errorf("start: %w", err)
		}
		p.send(ctx, ev.ChatID, greeting, log)

	case CmdHelp:
		p.send(ctx, ev.ChatID, p.Persona.Help, log)

	case CmdJoke:
		p.send(ctx, ev.ChatID, pick(p.Rand, p.Persona.Jokes), log)

	case CmdMood:
		p.send(ctx, ev.ChatID, pick(p.Rand, p.Persona.Moods), log)

	case CmdReact:
		p.send(ctx, ev.ChatID, pick(p.Rand, p.Persona.Emojis), log)

	case CmdReset:
		if err := p.Sessions.ResetHistory(ctx, ev.UserKey); err != nil && !p.storeDegraded(err, log) {
			p.send(ctx, ev.ChatID, p.Persona.Apology, log)
			return fmt.Errorf("reset: %w", err)
		}
		p.send(ctx, ev.ChatID, p.Persona.ResetReply, log)

	default:
		log.Debug().Msg("unknown command ignored")
		return nil
	}

	log.Info().Msg("command handled")
	return nil
}
