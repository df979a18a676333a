package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stevecastle/stereopair/compositor"
	"github.com/stevecastle/stereopair/exports"
	"github.com/stevecastle/stereopair/pair"
)

var (
	composeCmd = &cobra.Command{
		Use:   "compose LEFT RIGHT",
		Short: "Write the side-by-side composite of two images without the editor",
		Args:  cobra.ExactArgs(2),
		RunE:  runCompose,
	}
	composeOutput         string
	composeLeftTransform  string
	composeRightTransform string
	composeQuality        int
	composeSaveScale      int
	composeRestore        bool
	composeRecord         bool
)

func init() {
	f := composeCmd.Flags()
	f.StringVarP(&composeOutput, "output", "o", "", "output JPEG (default LEFT-RIGHT.jpg next to LEFT)")
	f.StringVar(&composeLeftTransform, "left-transform", "", "left transform as a,b,c,d,e,f")
	f.StringVar(&composeRightTransform, "right-transform", "", "right transform as a,b,c,d,e,f")
	f.IntVar(&composeQuality, "quality", 0, "JPEG quality (default from config)")
	f.IntVar(&composeSaveScale, "save-scale", 0, "output scale factor (default from config)")
	f.BoolVar(&composeRestore, "restore", false, "use the alignment last saved for this pair")
	f.BoolVar(&composeRecord, "record", false, "add the result to the export history")
}

// loadPair returns a pair with both sides decoded.
func loadPair(opts pair.Options, left, right string) (*pair.Config, error) {
	p := pair.New(opts)
	for side, path := range []string{left, right} {
		if err := p.Slot(pair.Side(side)).Load(absPath(path)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func runCompose(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	opts := pairOptions(cfg)
	if composeSaveScale > 0 {
		opts.SaveScale = composeSaveScale
	}
	quality := cfg.JPEGQuality
	if composeQuality > 0 {
		quality = composeQuality
	}

	p, err := loadPair(opts, args[0], args[1])
	if err != nil {
		return err
	}

	var queue *exports.Queue
	if composeRestore || composeRecord {
		db, err := initDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if queue, err = exports.NewQueueWithDB(db, nil); err != nil {
			return err
		}
	}

	if composeRestore {
		snap := p.Snapshot()
		l, r, ok := queue.LastAlignment(snap.Left.Source, snap.Right.Source)
		if !ok {
			return fmt.Errorf("no saved alignment for %s and %s", snap.Left.Source, snap.Right.Source)
		}
		p.SetTransforms(&l, &r)
	} else {
		l, err := parseTransform(composeLeftTransform)
		if err != nil {
			return err
		}
		r, err := parseTransform(composeRightTransform)
		if err != nil {
			return err
		}
		p.SetTransforms(&l, &r)
	}

	snap := p.Snapshot()
	output := composeOutput
	if output == "" {
		output, _ = snap.ProposedOutputName()
	}
	output = absPath(output)

	img := compositor.Composite(snap, snap.SaveSize, compositor.Final)
	if err := compositor.SaveJPEG(output, img, quality); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"output": output,
		"width":  snap.SaveSize.X,
		"height": snap.SaveSize.Y,
	}).Info("composite written")

	if composeRecord {
		id, err := queue.AddJob(snap, output)
		if err != nil {
			return err
		}
		if _, err := queue.ClaimJob(); err != nil {
			return err
		}
		if err := queue.CompleteJob(id); err != nil {
			return err
		}
	}
	return nil
}
