package builder

// SeedReferences is the curated table of traditional study Bible references
// used when no reference table file is configured.
var SeedReferences = ReferenceTable{
	{Verse: "matthew_1_1", References: []DeclaredReference{
		{Verse: "luke_3_23", Type: TypeThematicStrong, Reason: "genealogy"},
		{Verse: "1_chronicles_3_10", Type: TypeThematicModerate, Reason: "davidic_lineage"},
		{Verse: "romans_1_3", Type: TypeDirectQuote, Reason: "son_of_david"},
	}},
	{Verse: "matthew_1_2", References: []DeclaredReference{
		{Verse: "genesis_21_3", Type: TypeDirectQuote, Reason: "abraham_isaac"},
		{Verse: "genesis_25_26", Type: TypeDirectQuote, Reason: "isaac_jacob"},
		{Verse: "genesis_29_35", Type: TypeThematicModerate, Reason: "judah_lineage"},
	}},
	{Verse: "matthew_1_16", References: []DeclaredReference{
		{Verse: "luke_1_27", Type: TypeParallelAccount, Reason: "mary_joseph"},
		{Verse: "luke_2_4", Type: TypeThematicStrong, Reason: "davidic_ancestry"},
	}},
	{Verse: "matthew_1_18", References: []DeclaredReference{
		{Verse: "luke_1_35", Type: TypeParallelAccount, Reason: "virgin_birth"},
		{Verse: "luke_2_5", Type: TypeThematicModerate, Reason: "betrothal"},
	}},
	{Verse: "matthew_1_21", References: []DeclaredReference{
		{Verse: "luke_1_31", Type: TypeParallelAccount, Reason: "jesus_name"},
		{Verse: "acts_4_12", Type: TypeThematicStrong, Reason: "salvation_name"},
		{Verse: "1_timothy_1_15", Type: TypeThematicStrong, Reason: "save_sinners"},
	}},
	{Verse: "matthew_1_23", References: []DeclaredReference{
		{Verse: "isaiah_7_14", Type: TypeDirectQuote, Reason: "immanuel_prophecy"},
		{Verse: "luke_1_31", Type: TypeThematicStrong, Reason: "virgin_birth"},
	}},
	{Verse: "matthew_2_1", References: []DeclaredReference{
		{Verse: "luke_2_4", Type: TypeParallelAccount, Reason: "bethlehem_birth"},
		{Verse: "micah_5_2", Type: TypeThematicStrong, Reason: "bethlehem_prophecy"},
	}},
	{Verse: "matthew_2_2", References: []DeclaredReference{
		{Verse: "numbers_24_17", Type: TypeThematicStrong, Reason: "star_prophecy"},
		{Verse: "revelation_22_16", Type: TypeThematicModerate, Reason: "bright_morning_star"},
	}},
	{Verse: "matthew_2_6", References: []DeclaredReference{
		{Verse: "micah_5_2", Type: TypeDirectQuote, Reason: "bethlehem_ruler"},
		{Verse: "2_samuel_5_2", Type: TypeThematicStrong, Reason: "shepherd_israel"},
	}},
	{Verse: "matthew_2_15", References: []DeclaredReference{
		{Verse: "hosea_11_1", Type: TypeDirectQuote, Reason: "egypt_my_son"},
		{Verse: "exodus_4_22", Type: TypeThematicStrong, Reason: "israel_my_son"},
	}},
}

var SeedClusters = []ThematicCluster{
	{Theme: "genealogy", Verses: []string{"matthew_1_1", "matthew_1_2", "luke_3_23", "1_chronicles_3_10"}},
	{Theme: "virgin_birth", Verses: []string{"matthew_1_18", "matthew_1_23", "luke_1_27", "luke_1_35"}},
	{Theme: "davidic_covenant", Verses: []string{"matthew_1_1", "matthew_1_6", "2_samuel_7_12", "psalm_89_3"}},
	{Theme: "messianic_prophecy", Verses: []string{"matthew_1_23", "matthew_2_6", "isaiah_7_14", "micah_5_2"}},
	{Theme: "salvation", Verses: []string{"matthew_1_21", "acts_4_12", "1_timothy_1_15", "romans_1_16"}},
	{Theme: "fulfillment", Verses: []string{"matthew_1_22", "matthew_2_15", "matthew_2_17", "matthew_2_23"}},
}
