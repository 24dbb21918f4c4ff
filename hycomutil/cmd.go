/*
Copyright © 2024 the hycom authors.
This file is part of hycom.

hycom is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hycom is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hycom.  If not, see <http://www.gnu.org/licenses/>.
*/

package hycomutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/skratchdot/open-golang/open"
	"github.com/spatialmodel/hycom"
	"github.com/spatialmodel/hycom/cloud"
	"github.com/spf13/cobra"
)

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(downloadCmd)
	Root.AddCommand(planCmd)
	Root.AddCommand(validateCmd)
	Root.AddCommand(serveCmd)
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "hycom",
	Short: "Download HYCOM ocean currents.",
	Long: `hycom downloads daily ocean current fields for a region and date range
from the HYCOM NetCDF Subset Service, combines the days of each month into a
single file, and saves one zip archive per month.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'HYCOM_var' where 'var' is the
name of the variable to be set, for example HYCOM_DATE_START.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setConfig(); err != nil {
			return err
		}
		Log = NewLogger(cmd.ErrOrStderr(), Cfg.GetString("log_file"), Cfg.GetBool("verbose"))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of hycom.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("hycom v%s\n", hycom.Version)
	},
	DisableAutoGenTag: true,
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download, combine and archive the configured months.",
	Long: `download fetches every day in the configured date range, combines the
days of each month and saves the monthly archives in output_dir. Months that
already have an archive are skipped unless --overwrite is set.

Press Ctrl-C once to stop after the downloads in progress, and a second time
to abort them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ConfigFromViper(Cfg)
		if err != nil {
			return err
		}
		opts := []hycom.Option{hycom.WithLogger(Log)}
		if cfg.Publish != "" {
			pub, err := cloud.NewPublisher(cmd.Context(), cfg.Publish, Log)
			if err != nil {
				return err
			}
			defer pub.Close()
			opts = append(opts, hycom.WithPublisher(pub))
		}
		r := hycom.NewRunner(cfg, opts...)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		stopOnSignal(r, cancel)

		rep, err := r.Run(ctx)
		if rep != nil {
			printReport(cmd, rep)
		}
		return err
	},
	DisableAutoGenTag: true,
}

// stopOnSignal stops r on the first interrupt and calls abort on the
// second.
func stopOnSignal(r *hycom.Runner, abort func()) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	updates, cancel := r.Subscribe()
	go func() {
		defer signal.Stop(sig)
		defer cancel()
		n := 0
		for {
			select {
			case <-sig:
				n++
				if n == 1 {
					Log.Warn("stopping after the downloads in progress; interrupt again to abort")
					r.Stop()
				} else {
					abort()
				}
			case _, ok := <-updates:
				if !ok {
					return
				}
			}
		}
	}()
}

func printReport(cmd *cobra.Command, rep *hycom.Report) {
	for _, m := range rep.Months {
		line := fmt.Sprintf("%s: %s, %d/%d days", m.Month, m.Status, m.Succeeded, m.Expected)
		if m.Archive != nil {
			line += ", " + m.Archive.Path
		}
		if m.Err != nil {
			line += ": " + m.Err.Error()
		}
		cmd.Println(line)
	}
	p := rep.Progress
	cmd.Printf("%s: %d days downloaded, %d failed\n", rep.State, p.SuccessCount, p.FailureCount)
	for _, f := range p.Failed {
		if f.Day != "" {
			cmd.Printf("  %s: %s\n", f.Day, f.Message)
		}
	}
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the planned requests without downloading.",
	Long: `plan prints the months and days that download would fetch, and with
--urls the request address of each day.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ConfigFromViper(Cfg)
		if err != nil {
			return err
		}
		p, err := hycom.NewPlanner(cfg, cfg.TempDir)
		if err != nil {
			return err
		}
		pkg := hycom.NewPackager(cfg, Log)
		cmd.Printf("%d days, bounds %v, variables %v\n", p.Len(), cfg.Bounds, cfg.Variables)
		for _, mp := range p.Months() {
			note := ""
			if !cfg.Overwrite && pkg.Exists(mp.Month) {
				note = " (archive exists, will be skipped)"
			}
			cmd.Printf("%s: %s to %s, %d days -> %s%s\n", mp.Month,
				mp.First.Format("2006-01-02"), mp.Last.Format("2006-01-02"), mp.Len(),
				filepath.Base(pkg.ArchivePath(mp.Month)), note)
			if Cfg.GetBool("urls") {
				for _, d := range mp.Days() {
					cmd.Printf("  %s\n", p.Descriptor(d).URL)
				}
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Check downloaded files.",
	Long: `validate checks that each file is a readable gridded data file holding the
configured variables on a time axis.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vars := splitList(Cfg.Get("variables"))
		bad := 0
		for _, f := range args {
			info, err := hycom.Validate(f, vars)
			if err != nil {
				bad++
				cmd.Printf("%s: %v\n", f, err)
				continue
			}
			cmd.Printf("%s: ok (%s, %d bytes, %d time steps)\n", f, info.Opener, info.Size, info.TimeLength)
		}
		if bad > 0 {
			return fmt.Errorf("hycom: %d of %d files failed validation", bad, len(args))
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web interface.",
	Long: `serve starts a web server for configuring downloads, starting and stopping
them, following their progress and retrieving the archives. Configuration
changes are saved to the --config file if one is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := ConfigFromViper(Cfg)
		var ce *hycom.ConfigurationError
		if err != nil && !errors.As(err, &ce) {
			return err
		} else if err != nil {
			// The configuration can be fixed through the web interface.
			Log.Warn(err)
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		c := NewController(Log, hycom.WithMetrics(hycom.NewMetrics(reg)))
		s := NewServer(cfg, c, reg, Log)
		s.ConfigFile = Cfg.GetString("config")

		addr := Cfg.GetString("addr")
		srv := &http.Server{Addr: addr, Handler: s.Handler()}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()

		Log.Infof("server listening at http://%s", addr)
		if Cfg.GetBool("open") {
			if err := open.Run("http://" + addr); err != nil {
				Log.Warnf("opening browser: %v", err)
			}
		}

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		Log.Info("shutting down")
		if c.Running() {
			c.Stop()
			c.Wait()
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	},
	DisableAutoGenTag: true,
}
