// Command stereopair aligns two photographs into a side-by-side stereo pair.
//
//	stereopair serve                   interactive editor in the browser
//	stereopair compose L R -o out.jpg  headless composite
//	stereopair depth L R -o depth.png  one disparity pass
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stevecastle/stereopair/affine"
	"github.com/stevecastle/stereopair/appconfig"
	"github.com/stevecastle/stereopair/pair"
)

var (
	rootCmd = &cobra.Command{
		Use:           "stereopair",
		Short:         "Compose two photographs into an aligned side-by-side stereo pair",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	configPath string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default is config.json in the data directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level")
	rootCmd.AddCommand(serveCmd, composeCmd, depthCmd, passphraseCmd)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("stereopair")
		os.Exit(1)
	}
}

// loadConfig reads --config or the default config file.
func loadConfig() (appconfig.Config, string, error) {
	if configPath != "" {
		cfg, err := appconfig.LoadFrom(configPath)
		return cfg, configPath, err
	}
	return appconfig.Load()
}

func pairOptions(cfg appconfig.Config) pair.Options {
	return pair.Options{
		Aspect:             pair.Aspect{W: cfg.Aspect.W, H: cfg.Aspect.H},
		SaveScale:          cfg.SaveScale,
		ForceLinkedOnScale: cfg.ForceLinkedOnScale,
		PreviewEdge:        cfg.PreviewEdge,
	}
}

// parseTransform reads "a,b,c,d,e,f". An empty string is the identity.
func parseTransform(s string) (affine.Transform, error) {
	if strings.TrimSpace(s) == "" {
		return affine.Identity(), nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return affine.Transform{}, fmt.Errorf("transform %q: want 6 comma separated numbers", s)
	}
	var c [6]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return affine.Transform{}, fmt.Errorf("transform %q: %w", s, err)
		}
		c[i] = v
	}
	t := affine.FromCoefficients(c)
	if !t.IsFinite() {
		return affine.Transform{}, fmt.Errorf("transform %q is not finite", s)
	}
	return t, nil
}
