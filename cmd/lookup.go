package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medreg/registry-cli/internal/model"
	"github.com/medreg/registry-cli/internal/portal"
)

var lookupDetails bool

var lookupCmd = &cobra.Command{
	Use:   "lookup <region> <crm>",
	Short: "Fetch and store a single doctor by CRM",
	Long:  "Searches the portal for one CRM within a region, enriches it with the phone/address/photo detail when consented, and upserts the record.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		region := strings.ToUpper(strings.TrimSpace(args[0]))
		if !model.ValidRegion(region) {
			return eris.Errorf("unknown region code: %s", region)
		}
		crm := strings.TrimSpace(args[1])

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tok, err := env.Guard.Current(ctx)
		if err != nil {
			return err
		}

		res, err := env.Portal.FetchPage(ctx, portal.PageRequest{
			Token:    tok,
			Region:   region,
			CRM:      crm,
			Page:     1,
			PageSize: 10,
		})
		if err != nil {
			return err
		}
		if len(res.Records) == 0 {
			fmt.Printf("No doctor found for CRM %s/%s.\n", crm, region)
			return nil
		}

		rec := res.Records[0]
		doc := rec.ToDoctor()

		details := cfg.Crawl.FetchDetails
		if cmd.Flags().Changed("details") {
			details = lookupDetails
		}
		if details && rec.SecurityHash != "" {
			det, derr := env.Portal.FetchDetail(ctx, rec.CRM, rec.State, rec.SecurityHash)
			if derr != nil {
				// The search result is still worth storing.
				zap.L().Warn("detail fetch failed",
					zap.String("crm", rec.CRM),
					zap.String("region", region),
					zap.Error(derr))
			} else {
				env.Portal.ApplyDetail(&doc, det)
			}
		}

		if _, err := env.Doctors.UpsertBatch(ctx, []model.Doctor{doc}); err != nil {
			return err
		}

		fmt.Println("Doctor stored.")
		formatDoctor(os.Stdout, doc)
		return nil
	},
}

// formatDoctor renders one stored record for the terminal. Detail fields
// appear only when the portal returned them.
func formatDoctor(out io.Writer, d model.Doctor) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Name:\t%s\n", d.Name)
	if d.SocialName != "" {
		fmt.Fprintf(w, "Social name:\t%s\n", d.SocialName)
	}
	fmt.Fprintf(w, "CRM:\t%s/%s\n", d.RawCRM, d.State)
	fmt.Fprintf(w, "Status:\t%s\n", dash(d.Status))
	fmt.Fprintf(w, "Registration:\t%s\n", dash(d.RegistrationType))
	fmt.Fprintf(w, "Registered on:\t%s\n", dash(d.RegistrationDate))
	fmt.Fprintf(w, "Graduation:\t%s\n", dash(d.GraduationInstitution))
	if len(d.Specialties) > 0 {
		names := make([]string, len(d.Specialties))
		for i, s := range d.Specialties {
			names[i] = s.Name
		}
		fmt.Fprintf(w, "Specialties:\t%s\n", strings.Join(names, ", "))
	}
	if d.Phone != "" {
		fmt.Fprintf(w, "Phone:\t%s\n", d.Phone)
	}
	if d.Address != "" {
		fmt.Fprintf(w, "Address:\t%s\n", d.Address)
	}
	if d.PhotoURL != "" {
		fmt.Fprintf(w, "Photo:\t%s\n", d.PhotoURL)
	}

	w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	lookupCmd.Flags().BoolVar(&lookupDetails, "details", true, "fetch the phone/address/photo detail")
	rootCmd.AddCommand(lookupCmd)
}
