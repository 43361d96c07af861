package bus

// Known namespaces.
var (
	ModulusNamespace  = Namespace{"com", "czertainly", "Modulus"}
	ModulesNamespace  = ModulusNamespace.Join("Modules")
	BossNamespace     = ModulusNamespace.Join("Boss")
	SecurityNamespace = ModulesNamespace.Join("Security")
	StorageNamespace  = ModulesNamespace.Join("Storage")
	PayloadsNamespace = ModulesNamespace.Join("Payloads")
	DNFNamespace      = PayloadsNamespace.Join("Payload", "DNF")
	SourceNamespace   = PayloadsNamespace.Join("Source")
)

// Known services.
var (
	Boss     = ServiceIdentifier{Namespace: BossNamespace}
	Security = ServiceIdentifier{Namespace: SecurityNamespace}
	Storage  = ServiceIdentifier{Namespace: StorageNamespace}
	Payloads = ServiceIdentifier{Namespace: PayloadsNamespace}
)

// Known objects.
var (
	DASD = ObjectIdentifier{
		Namespace: StorageNamespace,
		Basename:  "DASD",
	}
)

// Interface names of objects published through containers.
var (
	TaskInterface     = ModulusNamespace.Join("Task").InterfaceName()
	SourceInterface   = SourceNamespace.InterfaceName()
	DNFInterface      = DNFNamespace.InterfaceName()
	PackagesInterface = DNFNamespace.Join("Packages").InterfaceName()
	LiveOSInterface   = PayloadsNamespace.Join("Payload", "LiveOS").InterfaceName()
)
