package checks

// PhaseSpec names one entry of the phase catalogue.
type PhaseSpec struct {
	Number int
	Name   string
}

// Catalogue is the fixed, ordered phase catalogue. Phase numbers define both
// identity and execution order; every audit creates one Phase row per entry.
var Catalogue = []PhaseSpec{
	{1, "Identity & Access Management"},
	{2, "Root & Privileged Accounts"},
	{3, "Credential Hygiene"},
	{4, "Storage Security"},
	{5, "Network Security"},
	{6, "Compute Security"},
	{7, "Database Security"},
	{8, "Encryption at Rest"},
	{9, "Encryption in Transit"},
	{10, "Logging & Audit Trail"},
	{11, "Monitoring & Alerting"},
	{12, "Threat Detection"},
	{13, "Configuration Management"},
	{14, "Backup & Recovery"},
	{15, "Container Security"},
	{16, "Serverless Security"},
	{17, "Secrets Management"},
	{18, "DNS & Certificates"},
	{19, "Load Balancing & Edge"},
	{20, "Messaging & Queues"},
	{21, "Data Protection"},
	{22, "Incident Response"},
	{23, "Organization Governance"},
	{24, "Compliance Controls"},
	{25, "Posture Summary"},
}

// PhaseName returns the catalogue name for number, or "" when unknown.
func PhaseName(number int) string {
	for _, p := range Catalogue {
		if p.Number == number {
			return p.Name
		}
	}
	return ""
}
