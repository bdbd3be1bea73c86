package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jinjinsansan/mentenansu-sub000/internal/model"
)

type addOptions struct {
	Date          string
	Emotion       string
	Event         string
	Realization   string
	SelfEsteem    int
	Worthlessness int
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	o := &addOptions{}
	labels := make([]string, len(model.Emotions))
	for i, e := range model.Emotions {
		labels[i] = string(e)
	}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Write a diary entry to the local store",
		Long: `Write a diary entry to the local store. It is copied to the remote store
on the next sync pass.

Emotions: ` + strings.Join(labels, " ") + `

Scores (0-100) are only meaningful for ` + string(model.EmotionWorthlessness) + `.`,
		Example: `  diarysync add --emotion 恐怖 --event "presentation" --realization "I prepared well"
  diarysync add --date 2024-01-03 --emotion 無価値感 --self-esteem 30 --worthlessness 70`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entry, err := o.entry(cmd.Flags(), time.Now())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.local.AddEntry(ctx, entry); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s entry for %s (%s).\n", entry.Emotion, entry.Date, entry.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.Date, "date", "", "entry date YYYY-MM-DD (default today)")
	f.StringVar(&o.Emotion, "emotion", "", "emotion label (required)")
	f.StringVar(&o.Event, "event", "", "what happened")
	f.StringVar(&o.Realization, "realization", "", "what you noticed")
	f.IntVar(&o.SelfEsteem, "self-esteem", 0, "self-esteem score 0-100")
	f.IntVar(&o.Worthlessness, "worthlessness", 0, "worthlessness score 0-100")
	_ = cmd.MarkFlagRequired("emotion")
	return cmd
}

// entry builds the entry from the parsed flags. Scores are set only when
// their flag was given.
func (o *addOptions) entry(flags *pflag.FlagSet, now time.Time) (*model.DiaryEntry, error) {
	date := o.Date
	if date == "" {
		date = now.Format(model.DateLayout)
	}
	e := &model.DiaryEntry{
		Date:        date,
		Emotion:     model.Emotion(o.Emotion),
		Event:       o.Event,
		Realization: o.Realization,
	}
	if flags.Changed("self-esteem") {
		e.SelfEsteemScore = model.Score(o.SelfEsteem)
	}
	if flags.Changed("worthlessness") {
		e.WorthlessnessScore = model.Score(o.Worthlessness)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func newConsentCommand(opts *rootOptions) *cobra.Command {
	var username string
	var decline bool
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Record a consent decision in the local store",
		Long: `Append a consent (or, with --decline, a refusal) to the local consent
history. Consent records are never deleted and are copied to the remote
store on the next pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if username == "" {
				username = a.cfg.DisplayName
			}
			rec := &model.ConsentRecord{
				Username:     username,
				ConsentGiven: !decline,
				IPAddress:    "unknown",
				UserAgent:    "diarysync/" + version,
			}
			if err := a.local.AppendConsent(ctx, rec); err != nil {
				return err
			}
			verb := "given"
			if decline {
				verb = "declined"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Consent %s by %s at %s.\n", verb, rec.Username, rec.ConsentDate.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "who is consenting (default display_name)")
	cmd.Flags().BoolVar(&decline, "decline", false, "record a refusal instead of consent")
	return cmd
}
