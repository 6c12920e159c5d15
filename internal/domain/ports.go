package domain

import "context"

// Catalog is the external parts catalog and build service.
type Catalog interface {
	ListParts(ctx context.Context, category Category, brand string) ([]Part, error)
	CompatibleMotherboards(ctx context.Context, cpuID, mode string) ([]Part, error)
	CompatibleRAM(ctx context.Context, motherboardID string) ([]Part, error)
	CompatibleCases(ctx context.Context, motherboardID string, gpuLengthMM int) ([]Part, error)
	VerifyBuild(ctx context.Context, req VerifyRequest) (Verdict, error)
	CreateDraft(ctx context.Context, req DraftRequest) (string, error)
	GetBuild(ctx context.Context, buildID string) (BuildSnapshot, error)
	SubmitDraft(ctx context.Context, buildID string) (string, error)
}

type BuildRepository interface {
	CreateSession(ctx context.Context, value BuildSession) (BuildSession, error)
	GetSession(ctx context.Context, id string) (BuildSession, error)
	ListSessions(ctx context.Context, limit int) ([]BuildSession, error)
	UpdateSession(ctx context.Context, id, brand, state string) error
	CreateVerificationRun(ctx context.Context, value VerificationRun) (VerificationRun, error)
	ListVerificationRuns(ctx context.Context, sessionID string, limit int) ([]VerificationRun, error)
	CreateDraftRecord(ctx context.Context, value DraftRecord) (DraftRecord, error)
	MarkDraftSubmitted(ctx context.Context, buildID, message string) (DraftRecord, error)
	ListDraftRecords(ctx context.Context, sessionID string, limit int) ([]DraftRecord, error)
}
