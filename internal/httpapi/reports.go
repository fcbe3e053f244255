package httpapi

import (
	"net/http"
)

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	rr := r.Context().Value(ctxReportRange).(reportRange)

	summaries, err := s.days.Report(r.Context(), rr.From, rr.To)
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	out := make([]daySummaryResponse, 0, len(summaries))
	for _, ds := range summaries {
		out = append(out, daySummaryResponse{
			Day:          ds.Day,
			ChannelID:    ds.Channel.ID,
			Code:         ds.Channel.Code,
			Kind:         ds.Channel.Kind,
			OpeningMinor: ds.OpeningMinor,
			IncomeMinor:  ds.IncomeMinor,
			ExpenseMinor: ds.ExpenseMinor,
			ClosingMinor: ds.ClosingMinor,
			EntryCount:   ds.EntryCount,
		})
	}
	toJSON(w, http.StatusOK, out)
}
