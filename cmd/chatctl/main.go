// Command chatctl provisions users, rooms and conversations for
// development and prints access tokens for them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"chat-realtime/internal/app"
	"chat-realtime/internal/config"
	"chat-realtime/internal/models"
	"chat-realtime/internal/services"
	"chat-realtime/internal/store"
	"chat-realtime/internal/utils"

	"go.uber.org/zap"
)

const usage = `usage: chatctl <command> [flags]

commands:
  user add -name NAME
  room add -name NAME -creator USER_ID [-type group|private|public] [-description TEXT]
  room member -room ROOM_ID -user USER_ID [-role member|moderator|admin] [-by USER_ID]
  conversation -a USER_ID -b USER_ID
  token -user USER_ID [-ttl 72h]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	log, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}
	defer log.Sync()

	ctx := context.Background()
	st, err := app.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		fatal(err)
	}
	defer st.Close()

	if err := run(ctx, cfg, st, os.Args[1:]); err != nil {
		log.Error("chatctl", zap.Strings("args", os.Args[1:]), zap.Error(err))
		fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config, st store.Store, args []string) error {
	cmd, rest := args[0], args[1:]
	if (cmd == "user" || cmd == "room") && len(rest) > 0 {
		cmd, rest = cmd+" "+rest[0], rest[1:]
	}

	switch cmd {
	case "user add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		name := fs.String("name", "", "username")
		fs.Parse(rest)
		u, err := st.CreateUser(ctx, *name)
		if err != nil {
			return err
		}
		fmt.Printf("user %d %s\n", u.ID, u.Username)

	case "room add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		name := fs.String("name", "", "room name")
		creator := fs.Int64("creator", 0, "creator user id (becomes admin)")
		roomType := fs.String("type", "group", "group, private or public")
		desc := fs.String("description", "", "description")
		fs.Parse(rest)
		room := &models.Room{Name: *name, CreatedBy: *creator, RoomType: *roomType, Description: *desc}
		if err := st.CreateRoom(ctx, room); err != nil {
			return err
		}
		fmt.Printf("room %d %s\n", room.ID, room.Name)

	case "room member":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		roomID := fs.Int64("room", 0, "room id")
		userID := fs.Int64("user", 0, "user id")
		role := fs.String("role", string(models.RoleMember), "member, moderator or admin")
		by := fs.Int64("by", 0, "user id of the inviter")
		fs.Parse(rest)
		var addedBy *int64
		if *by != 0 {
			addedBy = by
		}
		m, created, err := st.AddMember(ctx, *roomID, *userID, models.Role(*role), addedBy)
		if err != nil {
			return err
		}
		fmt.Printf("member room=%d user=%d role=%s new=%t\n", m.RoomID, m.UserID, m.Role, created)

	case "conversation":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		a := fs.Int64("a", 0, "first participant")
		b := fs.Int64("b", 0, "second participant")
		fs.Parse(rest)
		c, created, err := st.GetOrCreateConversation(ctx, *a, *b)
		if err != nil {
			return err
		}
		fmt.Printf("conversation %d new=%t\n", c.ID, created)

	case "token":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		userID := fs.Int64("user", 0, "user id")
		ttl := fs.Duration("ttl", 72*time.Hour, "token lifetime")
		fs.Parse(rest)
		u, err := st.GetUser(ctx, *userID)
		if err != nil {
			return fmt.Errorf("user %d: %w", *userID, err)
		}
		tok, err := services.GenerateJWT(cfg.Auth.JWTSecret, u.ID, u.Username, *ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
	os.Exit(1)
}
