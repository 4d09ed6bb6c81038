package calendar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// maxOccurrencesPerEvent は繰り返し展開の安全上限。
// 異常なRRULEによる暴走展開を防ぐ。
const maxOccurrencesPerEvent = 1000

// ICSProvider はICS購読URLから取得する読み取り専用プロバイダ。
// VEVENTをパースし、RRULE/EXDATEに基づく繰り返しを時間窓内の
// 単一インスタンスへ展開して返す。イベント作成には対応しない。
type ICSProvider struct {
	httpClient  *http.Client
	logger      *slog.Logger
	feedURL     string
	maxBodySize int64
}

// NewICSProvider はICSProviderの新しいインスタンスを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すこと。
func NewICSProvider(httpClient *http.Client, logger *slog.Logger, feedURL string, maxBodySize int64) *ICSProvider {
	return &ICSProvider{
		httpClient:  httpClient,
		logger:      logger,
		feedURL:     feedURL,
		maxBodySize: maxBodySize,
	}
}

// Pull はICSフィードを取得し、時間窓 [start, end) 内のイベントインスタンスを返す。
// 繰り返しイベントは展開され、インスタンスごとに
// "UID/開始時刻" 形式の外部イベントIDが割り当てられる。
func (p *ICSProvider) Pull(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return nil, NewProviderError(ErrorKindUnknown, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err))
	}
	req.Header.Set("User-Agent", "Shootman/1.0 Calendar Sync")
	req.Header.Set("Accept", "text/calendar, */*")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("ICSフィードの取得に失敗しました",
			slog.String("calendar_id", calendarID),
			slog.String("error", err.Error()),
		)
		return nil, NewProviderError(ErrorKindUnknown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := ClassifyHTTPStatus(resp.StatusCode)
		p.logger.Warn("ICSフィードがエラーステータスを返しました",
			slog.String("calendar_id", calendarID),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, NewProviderError(kind, fmt.Errorf("ICSフィードがステータス %d を返しました", resp.StatusCode))
	}

	body := io.LimitReader(resp.Body, p.maxBodySize)
	cal, err := ical.ParseCalendar(body)
	if err != nil {
		return nil, NewProviderError(ErrorKindUnknown, fmt.Errorf("ICSの解析に失敗しました: %w", err))
	}

	var events []Event
	for _, vevent := range cal.Events() {
		instances, err := expandVEvent(vevent, start, end)
		if err != nil {
			// 個別イベントの展開失敗は全体を失敗させず、スキップして記録する
			p.logger.Warn("VEVENTの展開に失敗したためスキップします",
				slog.String("calendar_id", calendarID),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, instances...)
	}

	return events, nil
}

// Create はICSプロバイダでは対応しない。常にPermissionDeniedを返す。
func (p *ICSProvider) Create(ctx context.Context, calendarID string, draft EventDraft) (string, error) {
	return "", NewProviderError(ErrorKindPermissionDenied,
		fmt.Errorf("ICS購読カレンダーは読み取り専用のためイベントを作成できません"))
}

// expandVEvent は1つのVEVENTを時間窓内のイベントインスタンスへ展開する。
// RRULEがない場合は窓と重なるときのみ1件返す。
// RRULEがある場合はEXDATEを適用しつつ窓内の発生を列挙する。
func expandVEvent(vevent *ical.VEvent, rangeStart, rangeEnd time.Time) ([]Event, error) {
	uid := propValue(vevent, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return nil, fmt.Errorf("UIDのないVEVENT")
	}

	eventStart, err := vevent.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("DTSTARTの解釈に失敗しました: %w", err)
	}
	eventEnd, err := vevent.GetEndAt()
	if err != nil {
		// DTENDのないイベントは長さゼロとして扱わず、1時間を仮定する
		eventEnd = eventStart.Add(time.Hour)
	}

	base := Event{
		Title:       propValue(vevent, ical.ComponentPropertySummary),
		Description: propValue(vevent, ical.ComponentPropertyDescription),
		Location:    propValue(vevent, ical.ComponentPropertyLocation),
		Status:      normalizeStatus(propValue(vevent, ical.ComponentPropertyStatus)),
		Attendees:   attendeeEmails(vevent),
	}

	rawRRule := propValue(vevent, ical.ComponentPropertyRrule)
	if rawRRule == "" {
		// 単発イベント: 窓と重ならなければスキップ
		if !intervalOverlaps(eventStart, eventEnd, rangeStart, rangeEnd) {
			return nil, nil
		}
		instance := base
		instance.ExternalID = uid
		instance.StartTime = eventStart
		instance.EndTime = eventEnd
		return []Event{instance}, nil
	}

	// 繰り返しイベント: RRULEをパースしEXDATEを除外して展開する
	rule, err := rrule.StrToRRule(rawRRule)
	if err != nil {
		return nil, fmt.Errorf("RRULEの解析に失敗しました: %w", err)
	}
	rule.DTStart(eventStart)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range exDates(vevent, eventStart.Location()) {
		set.ExDate(ex)
	}

	occStarts := set.Between(rangeStart.In(eventStart.Location()), rangeEnd.In(eventStart.Location()), true)
	if len(occStarts) > maxOccurrencesPerEvent {
		occStarts = occStarts[:maxOccurrencesPerEvent]
	}

	duration := eventEnd.Sub(eventStart)
	instances := make([]Event, 0, len(occStarts))
	for _, occStart := range occStarts {
		// Betweenは両端を含むため、半開区間 [start, end) に合わせて終端は除外する
		if !occStart.Before(rangeEnd.In(eventStart.Location())) {
			continue
		}
		instance := base
		instance.IsRecurring = true
		instance.StartTime = occStart
		instance.EndTime = occStart.Add(duration)
		// インスタンスごとに安定した外部IDを割り当てる
		instance.ExternalID = uid + "/" + occStart.UTC().Format(time.RFC3339)
		instances = append(instances, instance)
	}

	return instances, nil
}

// propValue はVEVENTのプロパティ値を取得する。存在しない場合は空文字列を返す。
func propValue(vevent *ical.VEvent, prop ical.ComponentProperty) string {
	p := vevent.GetProperty(prop)
	if p == nil {
		return ""
	}
	return p.Value
}

// attendeeEmails はVEVENTの参加者メールアドレスを列挙する。
func attendeeEmails(vevent *ical.VEvent) []string {
	attendees := vevent.Attendees()
	if len(attendees) == 0 {
		return nil
	}
	emails := make([]string, 0, len(attendees))
	for _, a := range attendees {
		emails = append(emails, a.Email())
	}
	return emails
}

// exDates はVEVENTのEXDATEを列挙する。値はイベントのタイムゾーンに揃える。
func exDates(vevent *ical.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range vevent.Properties {
		if ical.ComponentProperty(p.IANAToken) != ical.ComponentPropertyExdate {
			continue
		}
		t, err := time.ParseInLocation("20060102T150405", p.Value, loc)
		if err != nil {
			// UTC表記（末尾Z）のEXDATE
			if tz, zerr := time.Parse("20060102T150405Z", p.Value); zerr == nil {
				out = append(out, tz.In(loc))
			}
			continue
		}
		out = append(out, t)
	}
	return out
}

// normalizeStatus はICSのSTATUS値を小文字の標準表現に変換する。
// 未指定はconfirmedとして扱う。
func normalizeStatus(status string) string {
	switch status {
	case "CANCELLED":
		return "cancelled"
	case "TENTATIVE":
		return "tentative"
	default:
		return "confirmed"
	}
}

// intervalOverlaps は2つの半開区間 [aStart, aEnd) と [bStart, bEnd) が重なるかを返す。
func intervalOverlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// compile-time interface check
var _ Provider = (*ICSProvider)(nil)
