package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"raid-attendance/internal/attendance"
	"raid-attendance/internal/export"
	"raid-attendance/internal/service"
	"strconv"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

const (
	AttendanceServicePath = "/attendance.v1.AttendanceService/"
	ExportPath            = "/export/attendance.xlsx"
)

const (
	GetAttendanceProcedure       = AttendanceServicePath + "GetAttendance"
	GetMemberAttendanceProcedure = AttendanceServicePath + "GetMemberAttendance"
	GetAttendanceMatrixProcedure = AttendanceServicePath + "GetAttendanceMatrix"
	RecordRaidProcedure          = AttendanceServicePath + "RecordRaid"
	UpsertMemberProcedure        = AttendanceServicePath + "UpsertMember"
	DeleteRaidProcedure          = AttendanceServicePath + "DeleteRaid"
)

type AttendanceServer struct {
	svc *service.AttendanceService
}

func NewAttendanceServer(svc *service.AttendanceService) *AttendanceServer {
	return &AttendanceServer{svc: svc}
}

// Handler mounts every procedure under AttendanceServicePath.
func (s *AttendanceServer) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetAttendanceProcedure, connect.NewUnaryHandler(GetAttendanceProcedure, s.GetAttendance, opts...))
	mux.Handle(GetMemberAttendanceProcedure, connect.NewUnaryHandler(GetMemberAttendanceProcedure, s.GetMemberAttendance, opts...))
	mux.Handle(GetAttendanceMatrixProcedure, connect.NewUnaryHandler(GetAttendanceMatrixProcedure, s.GetAttendanceMatrix, opts...))
	mux.Handle(RecordRaidProcedure, connect.NewUnaryHandler(RecordRaidProcedure, s.RecordRaid, opts...))
	mux.Handle(UpsertMemberProcedure, connect.NewUnaryHandler(UpsertMemberProcedure, s.UpsertMember, opts...))
	mux.Handle(DeleteRaidProcedure, connect.NewUnaryHandler(DeleteRaidProcedure, s.DeleteRaid, opts...))
	return AttendanceServicePath, mux
}

func (s *AttendanceServer) GetAttendance(ctx context.Context, req *connect.Request[AttendanceRequest]) (*connect.Response[AttendanceResponse], error) {
	start := time.Now()
	defer logDuration(ctx, "GetAttendance", start)

	stats, err := s.svc.Stats(ctx, toQuery(req.Msg.QueryParams))
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &AttendanceResponse{Members: make([]MemberAttendance, 0, len(stats))}
	for _, st := range stats {
		resp.Members = append(resp.Members, toMemberAttendance(st))
	}
	return connect.NewResponse(resp), nil
}

func (s *AttendanceServer) GetMemberAttendance(ctx context.Context, req *connect.Request[MemberAttendanceRequest]) (*connect.Response[MemberAttendanceResponse], error) {
	start := time.Now()
	defer logDuration(ctx, "GetMemberAttendance", start)

	st, err := s.svc.MemberStats(ctx, req.Msg.MemberID, toQuery(req.Msg.QueryParams))
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &MemberAttendanceResponse{}
	if st != nil {
		m := toMemberAttendance(*st)
		resp.Member = &m
	}
	return connect.NewResponse(resp), nil
}

func (s *AttendanceServer) GetAttendanceMatrix(ctx context.Context, req *connect.Request[MatrixRequest]) (*connect.Response[MatrixResponse], error) {
	start := time.Now()
	defer logDuration(ctx, "GetAttendanceMatrix", start)

	m, err := s.svc.Matrix(ctx, toQuery(req.Msg.QueryParams))
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &MatrixResponse{
		Columns: make([]MatrixColumn, 0, len(m.Columns)),
		Rows:    make([]MatrixRow, 0, len(m.Rows)),
	}
	for _, col := range m.Columns {
		resp.Columns = append(resp.Columns, MatrixColumn{Date: col.Date.String(), Zones: col.Zones, Tags: col.Tags})
	}
	for _, row := range m.Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		resp.Rows = append(resp.Rows, MatrixRow{
			MemberID:   row.Member.ID,
			Name:       row.Member.Name,
			Rank:       row.Member.Rank,
			Attended:   row.Attended,
			Total:      row.Total,
			Percentage: row.Percentage,
			Cells:      cells,
		})
	}
	return connect.NewResponse(resp), nil
}

func (s *AttendanceServer) RecordRaid(ctx context.Context, req *connect.Request[RecordRaidRequest]) (*connect.Response[RecordRaidResponse], error) {
	startedAt, err := time.Parse(time.RFC3339, req.Msg.StartedAt)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("startedAt must be RFC3339: %w", err))
	}

	in := service.RaidInput{
		ID:        req.Msg.ID,
		StartedAt: startedAt,
		Zone:      req.Msg.Zone,
		Tags:      req.Msg.Tags,
		Attendees: make([]service.RaidAttendee, 0, len(req.Msg.Attendees)),
	}
	for _, a := range req.Msg.Attendees {
		in.Attendees = append(in.Attendees, service.RaidAttendee{Name: a.Name, Presence: a.Presence})
	}

	raid, err := s.svc.RecordRaid(ctx, in)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RecordRaidResponse{RaidID: raid.ID, Entries: len(raid.Entries)}), nil
}

func (s *AttendanceServer) DeleteRaid(ctx context.Context, req *connect.Request[DeleteRaidRequest]) (*connect.Response[DeleteRaidResponse], error) {
	if err := s.svc.DeleteRaid(ctx, req.Msg.RaidID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&DeleteRaidResponse{RaidID: req.Msg.RaidID}), nil
}

func (s *AttendanceServer) UpsertMember(ctx context.Context, req *connect.Request[UpsertMemberRequest]) (*connect.Response[UpsertMemberResponse], error) {
	active := true
	if req.Msg.Active != nil {
		active = *req.Msg.Active
	}

	m, err := s.svc.UpsertMember(ctx, req.Msg.Name, req.Msg.Rank, active)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&UpsertMemberResponse{
		MemberID: m.ID,
		Name:     m.Name,
		Rank:     m.RankName,
		Active:   m.Active,
	}), nil
}

// ExportMatrix serves the attendance matrix as an xlsx workbook. Filters come
// from query parameters; zone, tag and rank may repeat.
func (s *AttendanceServer) ExportMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	values := r.URL.Query()
	refresh, _ := strconv.ParseBool(values.Get("refresh"))
	q := service.Query{
		Since:   values.Get("since"),
		Before:  values.Get("before"),
		Zones:   values["zone"],
		Tags:    values["tag"],
		Ranks:   values["rank"],
		Refresh: refresh,
	}

	m, err := s.svc.Matrix(r.Context(), q)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, attendance.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to build matrix for export")
		http.Error(w, err.Error(), status)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteMatrix(&buf, m); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to write workbook")
		http.Error(w, "failed to write workbook", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func toQuery(p QueryParams) service.Query {
	return service.Query{
		Since:   p.Since,
		Before:  p.Before,
		Zones:   p.Zones,
		Tags:    p.Tags,
		Ranks:   p.Ranks,
		Refresh: p.Refresh,
	}
}

func toMemberAttendance(st attendance.Stats[int64]) MemberAttendance {
	m := MemberAttendance{
		MemberID:        st.Participant,
		Name:            st.Name,
		TotalReports:    st.TotalReports,
		ReportsAttended: st.ReportsAttended,
		Percentage:      st.Percentage,
	}
	if !st.FirstAttendance.IsZero() {
		m.FirstAttendance = st.FirstAttendance.UTC().Format(time.RFC3339)
	}
	return m
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, attendance.ErrInvalidInput):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, service.ErrMemberNotFound), errors.Is(err, service.ErrRaidNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func logDuration(ctx context.Context, procedure string, start time.Time) {
	zerolog.Ctx(ctx).Debug().
		Str("procedure", procedure).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("rpc finished")
}
