package analysis

import (
	"fmt"
	"sort"
	"strings"
)

func RenderReport(r *Result) string {
	var sb strings.Builder

	winner := "none"
	if r.HasWinner() {
		winner = *r.Winner
	}

	fmt.Fprintf(&sb, `
Experiment Report
=================

Test: %s (%s, %s)
Total Observations: %d
Significance: %s at %.3f
Winner: %s
`,
		r.ExperimentID, r.TestType, r.Status,
		r.TotalObservations,
		r.SignificanceMethod, r.Threshold,
		winner,
	)

	sb.WriteString("\nVariants:\n")
	if len(r.Summaries) == 0 {
		sb.WriteString("- no observations\n")
	}
	for _, s := range r.Summaries {
		fmt.Fprintf(&sb, "- %s: %d observations, success rate %.1f%%\n", s.Variant, s.Count, s.SuccessRate*100)

		names := make([]string, 0, len(s.Metrics))
		for name := range s.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m := s.Metrics[name]
			fmt.Fprintf(&sb, "    %s: mean %.4f, median %.4f, std dev %.4f, min %.4f, max %.4f (n=%d)\n",
				name, m.Mean, m.Median, m.StdDev, m.Min, m.Max, m.Count)
		}
	}

	if len(r.Comparisons) > 0 {
		sb.WriteString("\nComparisons:\n")
		for _, c := range r.Comparisons {
			mark := "not significant"
			if c.Significant {
				mark = "significant"
			}
			fmt.Fprintf(&sb, "- %s: %.1f%% vs %.1f%%, difference %.3f, %s", c.Key(), c.RateA*100, c.RateB*100, c.Difference, mark)
			if c.PValue != nil {
				fmt.Fprintf(&sb, " (p=%.4f, z=%.3f)", *c.PValue, *c.ZScore)
			}
			sb.WriteString("\n")
		}
	}

	fmt.Fprintf(&sb, "\nRecommendation: %s\n", r.Recommendation)

	return sb.String()
}
