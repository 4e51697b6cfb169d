package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/store"
	"expenseflow/expense-service/internal/workflow"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type fixture struct {
	companyCode string
	department  models.Department
	employee    models.User
	manager     models.User
	cfo         models.User
	ceo         models.User
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	code := randomCompanyCode()
	_, admin, err := st.RegisterCompany(ctx, store.RegisterInput{
		CompanyName: "Acme Corp",
		CompanyCode: code,
		Country:     "India",
		AdminName:   "Asha Admin",
		AdminEmail:  "Admin-" + code + "@example.com",
		Password:    "secret1",
	})
	if err != nil {
		t.Fatalf("register company: %v", err)
	}
	if admin.EmployeeCode != "ADMIN-0001" {
		t.Fatalf("expected ADMIN-0001, got %s", admin.EmployeeCode)
	}

	_, _, err = st.RegisterCompany(ctx, store.RegisterInput{
		CompanyName: "Acme Again",
		CompanyCode: code,
		Country:     "India",
		AdminName:   "Other",
		AdminEmail:  "other-" + code + "@example.com",
		Password:    "secret1",
	})
	if !errors.Is(err, store.ErrCompanyCodeTaken) {
		t.Fatalf("expected ErrCompanyCodeTaken, got %v", err)
	}

	result, err := st.Authenticate(ctx, store.LoginInput{Email: strings.ToUpper(admin.Email), Password: "secret1", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.User.CompanyName != "Acme Corp" {
		t.Fatalf("expected company name, got %q", result.User.CompanyName)
	}
	if _, _, err := st.GetSession(ctx, result.Session.SessionID); err != nil {
		t.Fatalf("get session: %v", err)
	}

	if _, err := st.Authenticate(ctx, store.LoginInput{Email: admin.Email, Password: "wrong", Role: models.RoleAdmin}); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := st.Authenticate(ctx, store.LoginInput{Email: admin.Email, Password: "secret1", Role: models.RoleCFO}); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong role, got %v", err)
	}

	if err := st.DeleteSession(ctx, result.Session.SessionID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, _, err := st.GetSession(ctx, result.Session.SessionID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestDepartmentNamesScopedPerTenant(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	a := seedFixture(t, ctx, st)
	b := seedFixture(t, ctx, st)

	if _, err := st.CreateDepartment(ctx, store.CreateDepartmentInput{CompanyCode: a.companyCode, Name: "Sales", Budget: decimal.NewFromInt(1000)}); !errors.Is(err, store.ErrDepartmentNameTaken) {
		t.Fatalf("expected ErrDepartmentNameTaken, got %v", err)
	}
	if a.department.DeptCode != "DEPT-0001" || b.department.DeptCode != "DEPT-0001" {
		t.Fatalf("expected per-tenant department codes, got %s and %s", a.department.DeptCode, b.department.DeptCode)
	}

	if err := st.DeleteDepartment(ctx, a.companyCode, a.department.DepartmentID); !errors.Is(err, store.ErrDepartmentHasUsers) {
		t.Fatalf("expected ErrDepartmentHasUsers, got %v", err)
	}
	if err := st.DeleteDepartment(ctx, b.companyCode, a.department.DepartmentID); !errors.Is(err, store.ErrDepartmentNotFound) {
		t.Fatalf("expected cross-tenant delete to miss, got %v", err)
	}
}

func TestCreateUserCodesAreSequential(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	f := seedFixture(t, ctx, st)
	codes := map[string]bool{}
	for _, user := range []models.User{f.employee, f.manager, f.cfo, f.ceo} {
		codes[user.EmployeeCode] = true
	}
	for _, want := range []string{"EMP-0001", "EMP-0002", "EMP-0003", "EMP-0004"} {
		if !codes[want] {
			t.Fatalf("expected code %s in %v", want, codes)
		}
	}

	if _, err := st.UpdateUser(ctx, store.UpdateUserInput{CompanyCode: f.companyCode, UserID: f.employee.UserID}); !errors.Is(err, store.ErrNoFields) {
		t.Fatalf("expected ErrNoFields, got %v", err)
	}
	email := f.manager.Email
	if _, err := st.UpdateUser(ctx, store.UpdateUserInput{CompanyCode: f.companyCode, UserID: f.employee.UserID, Email: &email}); !errors.Is(err, store.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestApplyDecisionFullChain(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	f := seedFixture(t, ctx, st)
	claim := submitClaim(t, ctx, st, f, 120000)

	steps := []struct {
		actor models.User
		want  models.Status
	}{
		{f.manager, models.StatusPendingCFOApproval},
		{f.cfo, models.StatusPendingCEOApproval},
		{f.ceo, models.StatusApprovedByCEO},
	}
	for _, step := range steps {
		updated, err := st.ApplyDecision(ctx, store.DecisionInput{
			CompanyCode: f.companyCode,
			ClaimID:     claim.ClaimID,
			ActorID:     step.actor.UserID,
			ActorRole:   step.actor.Role,
			Decision:    models.DecisionApprove,
			Comment:     "approved by " + string(step.actor.Role),
		})
		if err != nil {
			t.Fatalf("%s decision: %v", step.actor.Role, err)
		}
		if updated.Status != step.want {
			t.Fatalf("expected %s, got %s", step.want, updated.Status)
		}
	}

	stored, err := st.GetClaim(ctx, f.companyCode, claim.ClaimID)
	if err != nil {
		t.Fatalf("get claim: %v", err)
	}
	if len(stored.Trail) != 3 {
		t.Fatalf("expected trail length 3, got %d", len(stored.Trail))
	}
	if err := store.VerifyTrail(stored.Trail); err != nil {
		t.Fatalf("verify trail: %v", err)
	}
	if stored.BudgetPercentage == nil || !stored.BudgetPercentage.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected 40%% recorded, got %v", stored.BudgetPercentage)
	}

	_, err = st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode,
		ClaimID:     claim.ClaimID,
		ActorID:     f.ceo.UserID,
		ActorRole:   models.RoleCEO,
		Decision:    models.DecisionApprove,
		Comment:     "again",
	})
	if !errors.Is(err, workflow.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestApplyDecisionConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	f := seedFixture(t, ctx, st)
	claim := submitClaim(t, ctx, st, f, 2350)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.ApplyDecision(ctx, store.DecisionInput{
				CompanyCode: f.companyCode,
				ClaimID:     claim.ClaimID,
				ActorID:     f.manager.UserID,
				ActorRole:   models.RoleManager,
				Decision:    models.DecisionApprove,
				Comment:     "ok",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, workflow.ErrInvalidStateTransition):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected one success and one rejection, got %d/%d", succeeded, rejected)
	}

	trail, err := st.ListTrail(ctx, f.companyCode, claim.ClaimID)
	if err != nil {
		t.Fatalf("list trail: %v", err)
	}
	if len(trail) != 1 {
		t.Fatalf("expected trail length 1, got %d", len(trail))
	}
}

func TestApplyDecisionOverride(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	f := seedFixture(t, ctx, st)
	claim := submitClaim(t, ctx, st, f, 5000)

	if _, err := st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode, ClaimID: claim.ClaimID, ActorID: f.manager.UserID,
		ActorRole: models.RoleManager, Decision: models.DecisionReject, Comment: "missing receipt",
	}); err != nil {
		t.Fatalf("manager reject: %v", err)
	}
	updated, err := st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode, ClaimID: claim.ClaimID, ActorID: f.cfo.UserID,
		ActorRole: models.RoleCFO, Decision: models.DecisionApprove, Comment: "receipt verified",
	})
	if err != nil {
		t.Fatalf("cfo override: %v", err)
	}
	if updated.Status != models.StatusApprovedByCFO || !updated.CFOOverride {
		t.Fatalf("expected override approval, got %s override=%v", updated.Status, updated.CFOOverride)
	}

	stats, err := st.ApprovalStats(ctx, f.companyCode)
	if err != nil {
		t.Fatalf("approval stats: %v", err)
	}
	if stats.Overrides != 1 || stats.Approved != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	overview, err := st.BudgetOverview(ctx, f.companyCode)
	if err != nil {
		t.Fatalf("budget overview: %v", err)
	}
	if len(overview.Departments) != 1 || !overview.Departments[0].ApprovedSpend.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("unexpected overview %+v", overview)
	}
}

func TestApplyDecisionRoutesOnRecordedPercentage(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	f := seedFixture(t, ctx, st)
	claim := submitClaim(t, ctx, st, f, 135000)

	if _, err := st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode, ClaimID: claim.ClaimID, ActorID: f.manager.UserID,
		ActorRole: models.RoleManager, Decision: models.DecisionApprove, Comment: "ok",
	}); err != nil {
		t.Fatalf("manager approve: %v", err)
	}
	if _, err := st.UpdateDepartmentBudget(ctx, f.companyCode, f.department.DepartmentID, decimal.NewFromInt(400000)); err != nil {
		t.Fatalf("update budget: %v", err)
	}

	updated, err := st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode, ClaimID: claim.ClaimID, ActorID: f.cfo.UserID,
		ActorRole: models.RoleCFO, Decision: models.DecisionApprove, Comment: "ok",
	})
	if err != nil {
		t.Fatalf("cfo approve: %v", err)
	}
	if updated.Status != models.StatusPendingCEOApproval {
		t.Fatalf("expected PendingCEOApproval, got %s", updated.Status)
	}
	last := updated.Trail[len(updated.Trail)-1]
	if !last.BudgetPercentage.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("expected trail entry at 45%%, got %s", last.BudgetPercentage)
	}
}

func TestApplyDecisionRejectsOwnClaim(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	f := seedFixture(t, ctx, st)
	claim, err := st.CreateClaim(ctx, store.CreateClaimInput{
		CompanyCode: f.companyCode,
		EmployeeID:  f.manager.UserID,
		Amount:      decimal.NewFromInt(2350),
		Currency:    "INR",
		Category:    "Meals",
		Description: "team lunch",
		ExpenseDate: time.Now().UTC().AddDate(0, 0, -1),
	})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}

	_, err = st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode, ClaimID: claim.ClaimID, ActorID: f.manager.UserID,
		ActorRole: models.RoleManager, Decision: models.DecisionApprove, Comment: "fine",
	})
	if !errors.Is(err, workflow.ErrUnauthorizedApprover) {
		t.Fatalf("expected ErrUnauthorizedApprover, got %v", err)
	}

	stored, err := st.GetClaim(ctx, f.companyCode, claim.ClaimID)
	if err != nil {
		t.Fatalf("get claim: %v", err)
	}
	if stored.Status != models.StatusPending || len(stored.Trail) != 0 {
		t.Fatalf("expected claim untouched, got %s with %d entries", stored.Status, len(stored.Trail))
	}
}

func TestApplyDecisionRejectsOtherDepartmentManager(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	f := seedFixture(t, ctx, st)
	other, err := st.CreateDepartment(ctx, store.CreateDepartmentInput{CompanyCode: f.companyCode, Name: "Operations", Budget: decimal.NewFromInt(100000)})
	if err != nil {
		t.Fatalf("create department: %v", err)
	}
	outsider, err := st.CreateUser(ctx, store.CreateUserInput{
		CompanyCode:  f.companyCode,
		Name:         "Ops Manager",
		Email:        "ops-" + strings.ToLower(f.companyCode) + "@example.com",
		Password:     "secret1",
		Role:         models.RoleManager,
		DepartmentID: other.DepartmentID,
	})
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	claim := submitClaim(t, ctx, st, f, 2350)

	_, err = st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode, ClaimID: claim.ClaimID, ActorID: outsider.UserID,
		ActorRole: models.RoleManager, Decision: models.DecisionApprove, Comment: "ok",
	})
	if !errors.Is(err, workflow.ErrUnauthorizedApprover) {
		t.Fatalf("expected ErrUnauthorizedApprover, got %v", err)
	}

	updated, err := st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode, ClaimID: claim.ClaimID, ActorID: f.manager.UserID,
		ActorRole: models.RoleManager, Decision: models.DecisionApprove, Comment: "ok",
	})
	if err != nil {
		t.Fatalf("own department manager: %v", err)
	}
	if updated.Status != models.StatusApprovedByManager {
		t.Fatalf("expected ApprovedByManager, got %s", updated.Status)
	}
}

func TestDeleteUserWithHistory(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	f := seedFixture(t, ctx, st)
	claim := submitClaim(t, ctx, st, f, 2350)
	if _, err := st.ApplyDecision(ctx, store.DecisionInput{
		CompanyCode: f.companyCode, ClaimID: claim.ClaimID, ActorID: f.manager.UserID,
		ActorRole: models.RoleManager, Decision: models.DecisionApprove, Comment: "ok",
	}); err != nil {
		t.Fatalf("manager approve: %v", err)
	}

	if err := st.DeleteUser(ctx, f.companyCode, f.employee.UserID); !errors.Is(err, store.ErrUserHasClaims) {
		t.Fatalf("expected ErrUserHasClaims, got %v", err)
	}
	if err := st.DeleteUser(ctx, f.companyCode, f.manager.UserID); !errors.Is(err, store.ErrUserHasApprovals) {
		t.Fatalf("expected ErrUserHasApprovals, got %v", err)
	}
	if err := st.DeleteUser(ctx, f.companyCode, f.ceo.UserID); err != nil {
		t.Fatalf("delete ceo: %v", err)
	}
	if err := st.DeleteUser(ctx, f.companyCode, f.ceo.UserID); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func seedFixture(t *testing.T, ctx context.Context, st *Store) fixture {
	t.Helper()
	code := randomCompanyCode()
	if _, _, err := st.RegisterCompany(ctx, store.RegisterInput{
		CompanyName: "Tenant " + code,
		CompanyCode: code,
		Country:     "India",
		AdminName:   "Admin",
		AdminEmail:  "admin-" + strings.ToLower(code) + "@example.com",
		Password:    "secret1",
	}); err != nil {
		t.Fatalf("register company: %v", err)
	}
	dept, err := st.CreateDepartment(ctx, store.CreateDepartmentInput{CompanyCode: code, Name: "Sales", Budget: decimal.NewFromInt(300000)})
	if err != nil {
		t.Fatalf("create department: %v", err)
	}

	f := fixture{companyCode: code, department: dept}
	f.manager = createTestUser(t, ctx, st, code, dept.DepartmentID, "", models.RoleManager)
	f.employee = createTestUser(t, ctx, st, code, dept.DepartmentID, f.manager.UserID, models.RoleEmployee)
	f.cfo = createTestUser(t, ctx, st, code, "", "", models.RoleCFO)
	f.ceo = createTestUser(t, ctx, st, code, "", "", models.RoleCEO)
	return f
}

func createTestUser(t *testing.T, ctx context.Context, st *Store, companyCode, departmentID, managerID string, role models.Role) models.User {
	t.Helper()
	user, err := st.CreateUser(ctx, store.CreateUserInput{
		CompanyCode:  companyCode,
		Name:         string(role) + " user",
		Email:        string(role) + "-" + strings.ToLower(companyCode) + "@example.com",
		Password:     "secret1",
		Role:         role,
		DepartmentID: departmentID,
		ManagerID:    managerID,
	})
	if err != nil {
		t.Fatalf("create %s: %v", role, err)
	}
	return user
}

func submitClaim(t *testing.T, ctx context.Context, st *Store, f fixture, amount int64) models.ExpenseClaim {
	t.Helper()
	claim, err := st.CreateClaim(ctx, store.CreateClaimInput{
		CompanyCode: f.companyCode,
		EmployeeID:  f.employee.UserID,
		Amount:      decimal.NewFromInt(amount),
		Currency:    "INR",
		Category:    "Travel",
		Description: "client visit",
		ExpenseDate: time.Now().UTC().AddDate(0, 0, -1),
	})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	if claim.Status != models.StatusPending {
		t.Fatalf("expected Pending, got %s", claim.Status)
	}
	return claim
}

func randomCompanyCode() string {
	id := uuid.New()
	code := make([]byte, 4)
	for i := range code {
		code[i] = 'A' + id[i]%26
	}
	return string(code)
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{SessionTTL: time.Hour})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
