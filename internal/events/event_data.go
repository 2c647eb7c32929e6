package events

// EventData is the payload carried by an Event.
type EventData interface {
	EventType() EventType
}

// Scoped is implemented by payloads that belong to a semester and turn.
// The Recorder persists scoped events to the game event log.
type Scoped interface {
	Scope() (semesterID int64, turnID int64)
}

// TurnScope is embedded by payloads that carry semester and turn ids.
type TurnScope struct {
	SemesterID int64 `json:"semester_id"`
	TurnID     int64 `json:"turn_id"`
	TurnNumber int   `json:"turn_number"`
}

// Scope implements Scoped.
func (s TurnScope) Scope() (int64, int64) {
	return s.SemesterID, s.TurnID
}

// TurnCreatedData is emitted when a new upcoming turn is created.
type TurnCreatedData struct {
	TurnScope
}

func (d *TurnCreatedData) EventType() EventType { return TurnCreated }

// TurnStartedData is emitted when a turn enters processing.
type TurnStartedData struct {
	TurnScope
	Companies int  `json:"companies"`
	Rerun     bool `json:"rerun"`
}

func (d *TurnStartedData) EventType() EventType { return TurnStarted }

// TurnStageCompletedData is emitted after each pipeline stage commits.
type TurnStageCompletedData struct {
	TurnScope
	Stage      int    `json:"stage"`
	StageName  string `json:"stage_name"`
	DurationMs int64  `json:"duration_ms"`
}

func (d *TurnStageCompletedData) EventType() EventType { return TurnStageCompleted }

// TurnCompletedData summarises a processed turn.
type TurnCompletedData struct {
	TurnScope
	Companies  int      `json:"companies"`
	Bankrupt   int      `json:"bankrupt"`
	DurationMs int64    `json:"duration_ms"`
	Plugins    []string `json:"plugins"`
}

func (d *TurnCompletedData) EventType() EventType { return TurnCompleted }

// TurnFailedData reports a pipeline failure.
type TurnFailedData struct {
	TurnScope
	Stage     int    `json:"stage"`
	StageName string `json:"stage_name"`
	Error     string `json:"error"`
}

func (d *TurnFailedData) EventType() EventType { return TurnFailed }

// TurnArchivedData reports a completed upload of a turn archive.
type TurnArchivedData struct {
	TurnScope
	Key   string `json:"key"`
	Bytes int    `json:"bytes"`
}

func (d *TurnArchivedData) EventType() EventType { return TurnArchived }

// DecisionDefaultedData is emitted when a company missed the deadline.
type DecisionDefaultedData struct {
	TurnScope
	CompanyID int64 `json:"company_id"`
	FromTurn  int64 `json:"from_turn,omitempty"`
}

func (d *DecisionDefaultedData) EventType() EventType { return DecisionDefaulted }

// DecisionInvalidData carries validation errors for a company decision.
type DecisionInvalidData struct {
	TurnScope
	CompanyID int64    `json:"company_id"`
	Errors    []string `json:"errors"`
}

func (d *DecisionInvalidData) EventType() EventType { return DecisionInvalid }

// MarketSimulatedData summarises market simulation for a turn.
type MarketSimulatedData struct {
	TurnScope
	Segments     int     `json:"segments"`
	TotalPremium string  `json:"total_premium"`
	AveragePrice float64 `json:"average_price"`
}

func (d *MarketSimulatedData) EventType() EventType { return MarketSimulated }

// CompanyBankruptData is emitted once per company on insolvency.
type CompanyBankruptData struct {
	TurnScope
	CompanyID     int64    `json:"company_id"`
	CompanyName   string   `json:"company_name"`
	Capital       string   `json:"capital"`
	SolvencyRatio *float64 `json:"solvency_ratio"`
}

func (d *CompanyBankruptData) EventType() EventType { return CompanyBankrupt }

// CatastropheOccurredData describes a catastrophe applied to a turn.
type CatastropheOccurredData struct {
	TurnScope
	Name     string   `json:"name"`
	State    string   `json:"state"`
	Lines    []string `json:"lines"`
	Severity float64  `json:"severity"`
}

func (d *CatastropheOccurredData) EventType() EventType { return CatastropheOccurred }

// LiquidationExecutedData reports a forced asset sale.
type LiquidationExecutedData struct {
	TurnScope
	CompanyID     int64  `json:"company_id"`
	LiquidationID string `json:"liquidation_id"`
	Trigger       string `json:"trigger"`
	Required      string `json:"required"`
	Raised        string `json:"raised"`
	TotalCost     string `json:"total_cost"`
}

func (d *LiquidationExecutedData) EventType() EventType { return LiquidationExecuted }

// NotificationQueuedData is emitted when turn notifications are enqueued.
type NotificationQueuedData struct {
	TurnScope
	Channel string `json:"channel"`
}

func (d *NotificationQueuedData) EventType() EventType { return NotificationQueued }

// PluginLifecycleData covers plugin load, initialize, enable and disable events.
type PluginLifecycleData struct {
	Type    EventType `json:"-"`
	Plugin  string    `json:"plugin"`
	Version string    `json:"version"`
}

func (d *PluginLifecycleData) EventType() EventType { return d.Type }

// PluginErrorData reports a failing plugin hook.
type PluginErrorData struct {
	Plugin string `json:"plugin"`
	Hook   string `json:"hook"`
	Error  string `json:"error"`
	TurnID int64  `json:"turn_id,omitempty"`
}

func (d *PluginErrorData) EventType() EventType { return PluginError }

// WorkEventData reports background work progress.
type WorkEventData struct {
	Type     EventType `json:"-"`
	WorkType string    `json:"work_type"`
	Subject  string    `json:"subject,omitempty"`
	Error    string    `json:"error,omitempty"`
	Duration float64   `json:"duration_seconds,omitempty"`
}

func (d *WorkEventData) EventType() EventType { return d.Type }
