package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/ostafen/bbupdate/internal/bbu"
	"github.com/ostafen/bbupdate/internal/image"
	"github.com/spf13/cobra"
)

func DefineUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <image>",
		Short: "Update the bootloader with an image",
		Long: `The 'update' command writes a bootloader image using one of the update handlers of the board.
The handler is chosen by --handler, else by --device, else the default handler is used.
Raw and Intel HEX images are accepted.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunUpdate,
	}

	cmd.Flags().StringP("handler", "t", "", "name of the update handler to use")
	cmd.Flags().StringP("device", "d", "", "device to update, selects the handler owning it")
	cmd.Flags().BoolP("force", "f", false, "update even if the image type checks fail")
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	cmd.Flags().Bool("progress", true, "show a progress bar while writing")
	cmd.Flags().Duration("watchdog-interval", time.Second, "minimum interval between two logged watchdog pings")
	return cmd
}

func RunUpdate(cmd *cobra.Command, args []string) error {
	s, log, err := loadSystem(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	img, err := image.Load(args[0])
	if err != nil {
		return err
	}

	data := &bbu.Data{
		Image:     img.Data,
		ImageFile: args[0],
	}
	data.HandlerName, _ = cmd.Flags().GetString("handler")
	data.DeviceFile, _ = cmd.Flags().GetString("device")

	if force, _ := cmd.Flags().GetBool("force"); force {
		data.Flags |= bbu.FlagForce
	}
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		data.Flags |= bbu.FlagYes
	}

	interval, _ := cmd.Flags().GetDuration("watchdog-interval")
	env := &bbu.Env{
		Devfs:     s.Devfs,
		Confirmer: &bbu.PromptConfirmer{In: os.Stdin, Out: os.Stdout},
		Watchdog:  &logWatchdog{log: log, interval: interval},
		Logger:    log,
		Hang: func(reason string) {
			log.Error("system halted", "reason", reason)
			s.Close()
			os.Exit(1)
		},
	}
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		env.Progress = os.Stderr
	}
	return s.BBU.Update(env, data)
}

// logWatchdog stands in for a hardware watchdog by logging its pings.
type logWatchdog struct {
	log      *slog.Logger
	interval time.Duration
	last     time.Time
	pings    int
}

func (w *logWatchdog) Ping() error {
	w.pings++
	if now := time.Now(); now.Sub(w.last) >= w.interval {
		w.log.Debug("watchdog ping", "count", w.pings)
		w.last = now
	}
	return nil
}
