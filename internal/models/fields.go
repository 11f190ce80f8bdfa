package models

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
)

// FieldSpec declares one field of the tender record and the group it is extracted into.
type FieldSpec struct {
	Group string
	Name  string
	Type  FieldType
}

// FieldCatalog is the declared set of fields collected on submission.
var FieldCatalog = []FieldSpec{
	{GroupBasicInfo, "naam", FieldText},
	{GroupBasicInfo, "opdrachtgever", FieldText},
	{GroupBasicInfo, "aanbestedende_dienst", FieldText},
	{GroupBasicInfo, "tender_nummer", FieldText},
	{GroupBasicInfo, "type", FieldText},
	{GroupBasicInfo, "geraamde_waarde", FieldNumber},
	{GroupBasicInfo, "locatie", FieldText},
	{GroupBasicInfo, "tenderned_url", FieldText},

	{GroupSchedule, "publicatie_datum", FieldDate},
	{GroupSchedule, "schouw_datum", FieldDate},
	{GroupSchedule, "nvi1_datum", FieldDateTime},
	{GroupSchedule, "nvi_1_publicatie", FieldDate},
	{GroupSchedule, "nvi2_datum", FieldDateTime},
	{GroupSchedule, "nvi_2_publicatie", FieldDate},
	{GroupSchedule, "deadline_indiening", FieldDateTime},
	{GroupSchedule, "presentatie_datum", FieldDate},
	{GroupSchedule, "voorlopige_gunning", FieldDate},
	{GroupSchedule, "definitieve_gunning", FieldDate},
	{GroupSchedule, "start_uitvoering", FieldDate},
	{GroupSchedule, "einde_contract", FieldDate},
}

// LookupField finds the declared spec for a field name.
func LookupField(name string) (FieldSpec, bool) {
	for _, f := range FieldCatalog {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}
