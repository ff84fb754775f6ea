package runner

import (
	"fmt"
	"io"
	"time"
)

// PrintSummary writes a human readable run report.
func PrintSummary(w io.Writer, s *RunSummary) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Custody Load")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", s.RunID)
	fmt.Fprintf(w, "Started:       %s\n", s.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "Elapsed:       %s\n", s.Elapsed.Round(time.Millisecond))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Records")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Processed:     %d\n", s.Processed)
	fmt.Fprintf(w, "Valid:         %d\n", s.Valid)
	fmt.Fprintf(w, "Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "Rejected:      %d\n", s.Rejected)
	fmt.Fprintf(w, "Warnings:      %d\n", s.Warnings)
	fmt.Fprintf(w, "Inserted:      %d\n", s.Inserted)
	fmt.Fprintf(w, "Throughput:    %.1f records/s\n", s.Throughput)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Units")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Completed:     %d\n", s.Completed)
	fmt.Fprintf(w, "Failed:        %d\n", s.Failed)
	for _, u := range s.Units {
		PrintUnit(w, u)
	}

	if len(s.Dates) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Record Dates")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, d := range s.DateKeys() {
			dt := s.Dates[d]
			fmt.Fprintf(w, "%s     %d rows from %d units\n", d, dt.Inserted, dt.Units)
		}
	}

	fmt.Fprintln(w)
}

// PrintUnit writes one unit line followed by its error and sampled issues.
func PrintUnit(w io.Writer, u *WorkUnit) {
	fmt.Fprintf(w, "- %-40s %-9s %-8s %d/%d valid, %d errors, %d rejected\n",
		u.Key, u.State, u.CustodyType, u.Valid, u.Processed, u.Errors, u.Rejected)
	if u.Err != nil {
		fmt.Fprintf(w, "    error: %v\n", u.Err)
	}
	for _, e := range u.SampledErrors {
		fmt.Fprintf(w, "    ! %s\n", e)
	}
	for _, e := range u.SampledWarnings {
		fmt.Fprintf(w, "    ~ %s\n", e)
	}
}
