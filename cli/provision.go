package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	core "github.com/makar21/core-sub000"
	"github.com/makar21/core-sub000/pkg/crypto"
)

const filePermission = 0o644

var errKeysExist = errors.New("key files already exist for this role")

type provisionResult struct {
	Role          string `json:"role"`
	Name          string `json:"name"`
	PublicKey     string `json:"public_key"`
	EncryptionKey string `json:"encryption_key"`
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a role identity",
	Long:  `Generate key material for a role and record it in the config file.`,
	Run: func(cmd *cobra.Command, _ []string) {
		var (
			role   string
			name   string
			keyDir = ".keys"
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Role").
					Options(
						huh.NewOption("Producer", "producer"),
						huh.NewOption("Worker", "worker"),
						huh.NewOption("Verifier", "verifier"),
						huh.NewOption("Estimator", "estimator"),
					).
					Value(&role),
				huh.NewInput().
					Title("Node name (empty for a generated one)").
					Value(&name),
				huh.NewInput().
					Title("Key directory").
					Value(&keyDir),
			),
		)
		if err := form.Run(); err != nil {
			logErrorCmd(*cmd, err)

			return
		}

		if _, err := crypto.Load(keyDir, role); err == nil {
			logErrorCmd(*cmd, errKeysExist)

			return
		}

		keys, err := crypto.Generate()
		if err != nil {
			logErrorCmd(*cmd, err)

			return
		}
		if err := keys.Save(keyDir, role); err != nil {
			logErrorCmd(*cmd, err)

			return
		}
		logSuccessCmd(*cmd, "Successfully generated key material")

		cfg, err := core.LoadConfig("config.toml")
		if err != nil {
			cfg = &core.Config{}
		}
		rc := core.RoleConfig{KeyDir: keyDir, Name: name}
		switch role {
		case "producer":
			cfg.Producer = rc
		case "worker":
			cfg.Worker = rc
		case "verifier":
			cfg.Verifier = rc
		case "estimator":
			cfg.Estimator = rc
		}
		if err := cfg.Save("config.toml"); err != nil {
			logErrorCmd(*cmd, err)

			return
		}
		logSuccessCmd(*cmd, "Successfully updated config.toml")

		envContent := fmt.Sprintf(`# %[1]s environment configuration

%[2]s_KEY_DIR=%[3]s
%[2]s_NAME=%[4]s
`,
			role,
			envPrefix(role),
			keyDir,
			name,
		)
		if err := os.WriteFile(".env."+role, []byte(envContent), filePermission); err != nil {
			logErrorCmd(*cmd, err)

			return
		}
		logSuccessCmd(*cmd, "Successfully created .env."+role+" file")

		logJSONCmd(*cmd, provisionResult{
			Role:          role,
			Name:          name,
			PublicKey:     keys.PublicKey(),
			EncryptionKey: keys.EncryptionKey(),
		})
	},
}

func envPrefix(role string) string {
	switch role {
	case "producer":
		return "PRODUCER"
	case "worker":
		return "WORKER"
	case "verifier":
		return "VERIFIER"
	default:
		return "ESTIMATOR"
	}
}

func NewProvisionCmd() *cobra.Command {
	return provisionCmd
}
