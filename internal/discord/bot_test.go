package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/handoff/internal/discord/mock"
)

func TestPermissionChecker_IsOperator(t *testing.T) {
	t.Parallel()

	member := func(roles ...string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{Roles: roles},
		}}
	}
	tests := []struct {
		name   string
		roleID string
		inter  *discordgo.InteractionCreate
		want   bool
	}{
		{"has role", "role-123", member("role-456", "role-123"), true},
		{"lacks role", "role-123", member("role-456"), false},
		{"no roles", "role-123", member(), false},
		{"empty role allows all", "", member("role-456"), true},
		{"no member", "role-123", &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, false},
		{"no member, no role", "", &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewPermissionChecker(tt.roleID).IsOperator(tt.inter); got != tt.want {
				t.Errorf("IsOperator() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOperatorName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		inter *discordgo.InteractionCreate
		want  string
	}{
		{&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: &discordgo.User{Username: "alice"}},
		}}, "alice"},
		{&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			User: &discordgo.User{Username: "bob"},
		}}, "bob"},
		{&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, "unknown"},
	}
	for _, tt := range tests {
		if got := operatorName(tt.inter); got != tt.want {
			t.Errorf("operatorName() = %q, want %q", got, tt.want)
		}
	}
}

func commandInteraction(name string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{Name: name},
	}}
}

func componentInteraction(customID string, roles ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:   discordgo.InteractionMessageComponent,
		Data:   discordgo.MessageComponentInteractionData{CustomID: customID},
		Member: &discordgo.Member{User: &discordgo.User{Username: "operator"}, Roles: roles},
	}}
}

func modalInteraction(customID, response string, roles ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionModalSubmit,
		Data: discordgo.ModalSubmitInteractionData{
			CustomID: customID,
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: responseInputID, Value: response},
				}},
			},
		},
		Member: &discordgo.Member{User: &discordgo.User{Username: "operator"}, Roles: roles},
	}}
}

func TestCommandRouter_Dispatch(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter(nil)
	var got []string
	record := func(name string) HandlerFunc {
		return func(Session, *discordgo.InteractionCreate) { got = append(got, name) }
	}
	r.RegisterCommand(&discordgo.ApplicationCommand{Name: "escalations"}, record("list"))
	r.RegisterComponent("handoff_", record("generic"))
	r.RegisterComponent("handoff_respond:", record("button"))
	r.RegisterModal("handoff_respond_modal:", record("modal"))

	s := &mock.Session{}
	r.Handle(s, commandInteraction("escalations"))
	r.Handle(s, componentInteraction("handoff_respond:abc"))
	r.Handle(s, componentInteraction("handoff_other"))
	r.Handle(s, modalInteraction("handoff_respond_modal:abc", "ok"))

	want := []string{"list", "button", "generic", "modal"}
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dispatch[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n := len(s.Responses()); n != 0 {
		t.Errorf("router sent %d responses for known interactions", n)
	}
}

func TestCommandRouter_Unknown(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter(nil)
	s := &mock.Session{}

	r.Handle(s, commandInteraction("nope"))
	r.Handle(s, componentInteraction("stale:1"))
	r.Handle(s, modalInteraction("stale_modal:1", "x"))

	resps := s.Responses()
	if len(resps) != 3 {
		t.Fatalf("got %d responses, want 3", len(resps))
	}
	for _, resp := range resps {
		if resp.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
			t.Error("unknown interaction reply is not ephemeral")
		}
	}
}

func TestCommandRouter_ApplicationCommands(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter(nil)
	r.RegisterCommand(&discordgo.ApplicationCommand{Name: "escalations"}, func(Session, *discordgo.InteractionCreate) {})
	r.RegisterComponent("x", func(Session, *discordgo.InteractionCreate) {})

	cmds := r.ApplicationCommands()
	if len(cmds) != 1 || cmds[0].Name != "escalations" {
		t.Errorf("ApplicationCommands() = %v", cmds)
	}
}
