package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eicompanion/ei/internal/engine"
)

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Inspect and manage personas",
}

var personaListArchived bool

var personaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List personas",
	RunE:  runPersonaList,
}

var personaCreateShort string
var personaCreateLong string
var personaCreateModel string
var personaCreateGroup string

var personaCreateCmd = &cobra.Command{
	Use:   "create <display-name>",
	Short: "Create a new persona directly, without LLM-authored generation",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonaCreate,
}

var personaArchiveCmd = &cobra.Command{
	Use:   "archive <id-or-name>",
	Short: "Archive a persona",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonaArchive,
}

var personaUnarchiveCmd = &cobra.Command{
	Use:   "unarchive <id-or-name>",
	Short: "Unarchive a persona",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonaUnarchive,
}

var personaPauseUntilMs int64

var personaPauseCmd = &cobra.Command{
	Use:   "pause <id-or-name>",
	Short: "Pause a persona (indefinitely unless --until is given)",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonaPause,
}

func init() {
	personaListCmd.Flags().BoolVar(&personaListArchived, "archived", false, "Show only archived personas")
	personaCreateCmd.Flags().StringVar(&personaCreateShort, "short", "", "Short description")
	personaCreateCmd.Flags().StringVar(&personaCreateLong, "long", "", "Long description")
	personaCreateCmd.Flags().StringVar(&personaCreateModel, "model", "", "Model override (provider:model)")
	personaCreateCmd.Flags().StringVar(&personaCreateGroup, "group", "", "Primary visibility group (default: general)")
	personaPauseCmd.Flags().Int64Var(&personaPauseUntilMs, "until", 0, "Unix-ms resume time (0 = indefinite)")

	personaCmd.AddCommand(personaListCmd)
	personaCmd.AddCommand(personaCreateCmd)
	personaCmd.AddCommand(personaArchiveCmd)
	personaCmd.AddCommand(personaUnarchiveCmd)
	personaCmd.AddCommand(personaPauseCmd)
}

func withEngine(fn func(ctx context.Context, eng *engine.Engine) error) error {
	dir, err := GetProfileDir()
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng, _, err := buildEngine(ctx, dir, "cli")
	if err != nil {
		return err
	}
	defer eng.Stop()
	return fn(ctx, eng)
}

func runPersonaList(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		archived := personaListArchived
		list := eng.GetPersonaList(&archived)
		for _, p := range list {
			fmt.Printf("%s\t%s\t%s\n", p.ID, p.DisplayName, p.GroupPrimary)
		}
		return nil
	})
}

func runPersonaCreate(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		p, err := eng.CreatePersona(engine.PersonaInput{
			DisplayName:      args[0],
			ShortDescription: personaCreateShort,
			LongDescription:  personaCreateLong,
			Model:            personaCreateModel,
			GroupPrimary:     personaCreateGroup,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", p.DisplayName, p.ID)
		return nil
	})
}

func runPersonaArchive(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		p, ok := eng.GetPersona(args[0])
		if !ok {
			return fmt.Errorf("persona %q not found", args[0])
		}
		return eng.ArchivePersona(p.ID)
	})
}

func runPersonaUnarchive(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		p, ok := eng.GetPersona(args[0])
		if !ok {
			return fmt.Errorf("persona %q not found", args[0])
		}
		return eng.UnarchivePersona(p.ID)
	})
}

func runPersonaPause(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine.Engine) error {
		p, ok := eng.GetPersona(args[0])
		if !ok {
			return fmt.Errorf("persona %q not found", args[0])
		}
		return eng.PausePersona(p.ID, personaPauseUntilMs)
	})
}
